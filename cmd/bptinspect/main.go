// Command bptinspect prints a breadth-first dump of a tree file's
// structure, plus its resource-usage stats.
//
// Usage: bptinspect -key-size N -value-size N <path-to-db>
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"bptree"
)

func main() {
	keySize := flag.Uint("key-size", 8, "fixed key width in bytes, must match the file's original Options")
	valueSize := flag.Uint("value-size", 32, "inline value slot width in bytes, must match the file's original Options")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "usage: %s -key-size N -value-size N <path-to-db>\n", os.Args[0])
		os.Exit(1)
	}
	path := flag.Arg(0)

	tree, err := bptree.Open(path, bptree.Options{
		KeySize:   uint32(*keySize),
		ValueSize: uint32(*valueSize),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", path, err)
		os.Exit(1)
	}
	defer tree.Close()

	stats, err := tree.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "stats: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s\n", path)
	fmt.Printf("%s\n\n", stats)

	info, err := os.Stat(path)
	if err == nil {
		fmt.Printf("file size on disk: %s\n\n", humanize.Bytes(uint64(info.Size())))
	}

	if err := tree.Dump(os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "dump: %v\n", err)
		os.Exit(1)
	}
}
