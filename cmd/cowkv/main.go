// cmd/cowkv/main.go
//
// cowkv CLI - inspect and manipulate a cowkv database file from the shell.
//
// Usage:
//
//	cowkv <database-file> get <key>
//	cowkv <database-file> put <key> <value>
//	cowkv <database-file> del <key>
//	cowkv <database-file> dump
//	cowkv <database-file> stats
package main

import (
	"errors"
	"fmt"
	"os"

	"cowkv/pkg/cowkv"
)

func main() {
	if len(os.Args) < 3 {
		usage()
		os.Exit(1)
	}

	dbPath := os.Args[1]
	cmd := os.Args[2]
	args := os.Args[3:]

	store, err := cowkv.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cowkv: open %s: %v\n", dbPath, err)
		os.Exit(1)
	}
	defer store.Close()

	if err := run(store, cmd, args); err != nil {
		fmt.Fprintf(os.Stderr, "cowkv: %v\n", err)
		os.Exit(1)
	}
}

func run(store *cowkv.Store, cmd string, args []string) error {
	switch cmd {
	case "get":
		if len(args) != 1 {
			return errors.New("get requires exactly one key argument")
		}
		value, err := store.Get([]byte(args[0]))
		if err != nil {
			return err
		}
		fmt.Println(string(value))
		return nil

	case "put":
		if len(args) != 2 {
			return errors.New("put requires a key and a value argument")
		}
		return store.Insert([]byte(args[0]), []byte(args[1]))

	case "del":
		if len(args) != 1 {
			return errors.New("del requires exactly one key argument")
		}
		return store.Delete([]byte(args[0]))

	case "dump":
		return store.Dump(os.Stdout)

	case "stats":
		stats, err := store.Stats()
		if err != nil {
			return err
		}
		fmt.Printf("root offset: %d\n", stats.RootOffset)
		fmt.Printf("height:      %d\n", stats.Height)
		fmt.Printf("keys:        %d\n", stats.KeyCount)
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: cowkv <database-file> [get <key> | put <key> <value> | del <key> | dump | stats]")
}
