package replay

import "context"

// NopRecorder is a no-op implementation of Recorder, used when recording is disabled.
type NopRecorder struct{}

var _ Recorder = (*NopRecorder)(nil)

func NewNopRecorder() *NopRecorder {
	return &NopRecorder{}
}

func (n *NopRecorder) Record(_ context.Context, _ []byte) error {
	return nil
}

func (n *NopRecorder) Close() error {
	return nil
}
