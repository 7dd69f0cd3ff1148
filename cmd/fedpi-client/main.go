package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/shumy-tools/fedpi/internal/group"
	"github.com/shumy-tools/fedpi/internal/identity"
	"github.com/shumy-tools/fedpi/internal/messages"
	"github.com/shumy-tools/fedpi/internal/store"
)

func main() {
	host := flag.String("host", "http://127.0.0.1:26658", "Set the node's HTTP address")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		log.Fatalf("❌ expected a subcommand: create <sid> | evolve <sid> <current-secret-base58> <current-index>")
	}

	var (
		commit messages.Commit
		sid    string
	)

	switch args[0] {
	case "create":
		if len(args) != 2 {
			log.Fatalf("❌ usage: create <sid>")
		}
		sid = args[1]

		secret := group.RandomScalar()
		subject := identity.NewSubject(sid)
		_, key := subject.Evolve(secret)
		subject.Keys = append(subject.Keys, key)

		fmt.Fprintf(os.Stderr, "🔑 generated secret (keep this safe): %s\n", secret.String())
		commit = messages.Commit{Value: &messages.Value{Subject: &subject}}

	case "evolve":
		if len(args) != 4 {
			log.Fatalf("❌ usage: evolve <sid> <current-secret-base58> <current-index>")
		}
		sid = args[1]

		secret, err := group.ScalarFromBase58(args[2])
		if err != nil {
			log.Fatalf("❌ invalid secret: %v", err)
		}
		index, err := strconv.ParseUint(args[3], 10, 64)
		if err != nil {
			log.Fatalf("❌ invalid index: %v", err)
		}

		activeKey := group.ScalarBaseMult(secret)
		next := group.RandomScalar()
		nextKey := group.ScalarBaseMult(next)
		key := identity.NewSubjectKey(sid, index+1, nextKey, secret, activeKey)

		fmt.Fprintf(os.Stderr, "🔑 generated next secret (keep this safe): %s\n", next.String())
		commit = messages.Commit{Value: &messages.Value{Subject: &identity.Subject{SID: sid, Keys: []identity.SubjectKey{key}}}}

	default:
		log.Fatalf("❌ unknown subcommand %q, expected create | evolve", args[0])
	}

	data, err := messages.Encode(commit)
	if err != nil {
		log.Fatalf("❌ failed to encode transaction: %v", err)
	}

	state, err := submitTx(*host, data)
	if err != nil {
		log.Fatalf("❌ transaction rejected: %v", err)
	}

	fmt.Printf("✅ sid=%s height=%d hash=%x\n", sid, state.Height, state.Hash)
}

func submitTx(host string, data []byte) (store.AppState, error) {
	resp, err := http.Post(host+"/tx", "application/octet-stream", bytes.NewReader(data))
	if err != nil {
		return store.AppState{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return store.AppState{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return store.AppState{}, fmt.Errorf("node returned %s: %s", resp.Status, body)
	}

	var state store.AppState
	if err := json.Unmarshal(body, &state); err != nil {
		return store.AppState{}, fmt.Errorf("decode response: %w", err)
	}
	return state, nil
}
