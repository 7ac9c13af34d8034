package keyed_test

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/creachadair/latest/keyed"
)

func ExampleNew() {
	send, recv := keyed.New[string, int]()

	// Each key keeps only its own most recent value.
	send.Send("temp", 20)
	send.Send("load", 3)
	send.Send("temp", 21) // replaces the earlier reading for "temp"

	// One receive drains every pending key in a single batch.
	batch, _ := recv.Recv()
	slices.SortFunc(batch, func(a, b keyed.Entry[string, int]) int {
		return cmp.Compare(a.Key, b.Key)
	})
	for _, e := range batch {
		fmt.Println(e.Key, e.Value)
	}

	// Output:
	// load 3
	// temp 21
}
