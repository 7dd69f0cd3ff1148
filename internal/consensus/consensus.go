// Package consensus provides a minimal single-process stand-in for a
// BFT consensus engine. Because the real engine is out of scope, this
// Driver sequences begin_block/check_tx/deliver_tx/commit_block for
// each transaction received over an HTTP endpoint, assigning
// monotonically increasing heights. It performs no cross-process
// ordering or Byzantine fault tolerance; it exists only to exercise
// the callback contract deterministically within one node, exactly as
// the check_tx/deliver_tx path in
// original_source/f-node/src/tendermint.rs does against a real
// abci.Application. See SPEC_FULL.md §6/§6a.
package consensus

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"

	"github.com/shumy-tools/fedpi/internal/handlers"
	"github.com/shumy-tools/fedpi/internal/store"
)

// Driver sequences one block per submitted transaction over a single
// handlers.Processor.
type Driver struct {
	mu     sync.Mutex
	proc   *handlers.Processor
	height int64
}

// NewDriver wires a Driver over an already-constructed Processor,
// resuming the height from the store's last committed state.
func NewDriver(proc *handlers.Processor) *Driver {
	return &Driver{proc: proc, height: proc.State().Height}
}

// SubmitTx runs one begin_block/check_tx/deliver_tx/commit_block cycle
// over tx. A rejection at check_tx or deliver_tx aborts the in-flight
// transaction and leaves height unchanged.
func (d *Driver) SubmitTx(tx []byte) (store.AppState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.proc.Start(); err != nil {
		return store.AppState{}, fmt.Errorf("consensus: begin_block: %w", err)
	}

	if err := d.proc.Filter(tx); err != nil {
		d.proc.Abort()
		return store.AppState{}, err
	}

	if err := d.proc.Deliver(tx); err != nil {
		d.proc.Abort()
		return store.AppState{}, err
	}

	d.height++
	state, err := d.proc.Commit(d.height)
	if err != nil {
		d.height--
		return store.AppState{}, fmt.Errorf("consensus: commit_block: %w", err)
	}
	return state, nil
}

// SubmitRequest forwards a client Request to the processor's
// synchronous request/response channel (votes and disclose results),
// serialized against block processing under the same cooperative,
// serial scheduling model (§5).
func (d *Driver) SubmitRequest(req []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.proc.Request(req)
}

var errEmptyBody = errors.New("consensus: empty request body")

// Handler builds the node's HTTP surface: POST /tx submits a Commit
// for consensus, POST /request carries a synchronous Request/Response
// round trip (negotiation votes, disclosure results).
func (d *Driver) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/tx", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		tx, err := readBody(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		state, err := d.SubmitTx(tx)
		if err != nil {
			log.Printf("❌ TX-REJECTED: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		log.Printf("✅ TX-COMMITTED height=%d hash=%x", state.Height, state.Hash)
		writeJSON(w, state)
	})

	mux.HandleFunc("/request", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		req, err := readBody(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		res, err := d.SubmitRequest(req)
		if err != nil {
			log.Printf("❌ REQUEST-REJECTED: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(res)
	})

	return mux
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("consensus: read body: %w", err)
	}
	if len(data) == 0 {
		return nil, errEmptyBody
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("❌ RESPONSE-ENCODE: %v", err)
	}
}
