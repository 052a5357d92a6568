package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"chatsync/pkg/logger"
	"chatsync/pkg/store"
)

// inspect dumps a local cache for offline debugging: conversations, one
// conversation's transcript, or the processed-action ledger count.
func main() {
	var (
		dbPath string
		conv   string
		limit  int
		ledger bool
	)
	flag.StringVar(&dbPath, "db", "", "path to the local store")
	flag.StringVar(&conv, "conversation", "", "dump this conversation's transcript")
	flag.IntVar(&limit, "limit", 0, "cap the transcript to the newest N messages")
	flag.BoolVar(&ledger, "ledger", false, "print the processed-action count")
	flag.Parse()

	if dbPath == "" {
		fmt.Fprintln(os.Stderr, "--db required")
		os.Exit(2)
	}
	logger.InitWithLevel("warn")

	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	switch {
	case ledger:
		n, err := st.ProcessedActionCount()
		if err != nil {
			fmt.Fprintf(os.Stderr, "ledger count: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("processed actions: %d\n", n)
	case conv != "":
		msgs, err := st.SnapshotMessages(conv, limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "snapshot: %v\n", err)
			os.Exit(1)
		}
		_ = enc.Encode(msgs)
	default:
		convs, err := st.ListConversations()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list conversations: %v\n", err)
			os.Exit(1)
		}
		_ = enc.Encode(convs)
	}
}
