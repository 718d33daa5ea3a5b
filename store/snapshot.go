package store

import (
	"io"

	"github.com/hashicorp/raft"
	"github.com/vmihailenco/msgpack/v5"
)

// snapshotState 是快照的持久化格式
type snapshotState struct {
	Entries map[string][]byte `msgpack:"entries"`
	Meta    map[string]string `msgpack:"meta"`
}

func encodeSnapshot(w io.Writer, st *snapshotState) error {
	return msgpack.NewEncoder(w).Encode(st)
}

func decodeSnapshot(r io.Reader) (*snapshotState, error) {
	st := &snapshotState{}
	if err := msgpack.NewDecoder(r).Decode(st); err != nil {
		return nil, err
	}
	if st.Entries == nil {
		st.Entries = make(map[string][]byte)
	}
	if st.Meta == nil {
		st.Meta = make(map[string]string)
	}
	return st, nil
}

type fsmSnapshot struct {
	state *snapshotState
}

func (f *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		// Encode data and write it to the sink
		if err := encodeSnapshot(sink, f.state); err != nil {
			return err
		}
		// Close the sink
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}
	return err
}

func (f *fsmSnapshot) Release() {}
