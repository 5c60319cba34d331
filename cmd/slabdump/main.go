// Command slabdump prints a JSON diagnostics snapshot of an allocator.
// It takes no flags of its own beyond -pretty. It creates a fresh
// allocator of its own and dumps that allocator's snapshot; it does
// not attach to an allocator living in another process.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/blackwell-systems/temporal-slab-sub002/diagnostics"
	"github.com/blackwell-systems/temporal-slab-sub002/slab"
)

func main() {
	pretty := flag.Bool("pretty", true, "pretty-print the JSON snapshot")
	flag.Parse()

	alloc, err := slab.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, "slabdump: creating allocator:", err)
		os.Exit(1)
	}
	defer alloc.Destroy()

	doc := diagnostics.Snapshot(alloc)
	if !*pretty {
		b, err := json.Marshal(doc)
		if err != nil {
			fmt.Fprintln(os.Stderr, "slabdump: marshaling snapshot:", err)
			os.Exit(1)
		}
		fmt.Println(string(b))
		return
	}
	b, err := diagnostics.MarshalJSON(doc)
	if err != nil {
		fmt.Fprintln(os.Stderr, "slabdump: marshaling snapshot:", err)
		os.Exit(1)
	}
	fmt.Println(string(b))
}
