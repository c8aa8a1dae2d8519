// Package sync provides the offline-first synchronization layer between the
// local record store and the remote spreadsheet-backed endpoint.
//
// # Overview
//
// Submissions are created locally and persisted as pending. The syncer drains
// them to the remote endpoint one at a time and, for privileged sessions,
// pulls the authoritative remote set back and merges it remote-wins-by-id:
//
//	Form / intake file
//	      ↓ (pending)
//	  Record store  ──PushPending──▶  remote endpoint
//	      ▲                              │
//	      └───────────Pull (merge)───────┘
//	      ↓
//	  Dashboard / CLI
//
// # Design constraints carried over from the field deployment
//
// Outbound writes are response-blind: the endpoint is called in a mode where
// the response cannot be inspected, so "no transport error" is the only
// available success signal. A write the endpoint silently rejected is still
// marked synced. This is a structural property of the deployment, not a bug;
// transport.Capability makes it explicit and testable.
//
// The merge is destructive at the record level: a remote copy overwrites the
// local one wholesale. Records only the local side knows survive; remote
// deletions never propagate.
//
// # Usage
//
//	st, err := store.Open(".frotahub/frotahub.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//	if err := st.InitSchema(); err != nil {
//	    return err
//	}
//
//	client := transport.New(transport.Config{Endpoint: endpoint})
//	syncer := sync.New(st, client, nil)
//
//	// One full pass, as the scheduler would run it:
//	err = syncer.SyncPass(ctx, sync.PassOptions{Privileged: true, Silent: true})
package sync
