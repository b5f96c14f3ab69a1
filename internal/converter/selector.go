package converter

import "sort"

// SelectMode changes which candidates the selector accepts.
type SelectMode int

const (
	// ModePassthrough only accepts audio-only streams, since the container is
	// delivered as is.
	ModePassthrough SelectMode = iota
	// ModeTranscode prefers audio-only streams but accepts muxed streams with
	// audio when nothing else exists; the transcoder drops the video track.
	ModeTranscode
)

// SelectStream returns the highest bitrate candidate acceptable for mode.
// Ties keep the resolver's order.
func SelectStream(candidates []StreamDescriptor, mode SelectMode) (StreamDescriptor, error) {
	pool := filterStreams(candidates, StreamDescriptor.AudioOnly)
	if len(pool) == 0 && mode == ModeTranscode {
		pool = filterStreams(candidates, func(d StreamDescriptor) bool { return d.HasAudio })
	}
	if len(pool) == 0 {
		return StreamDescriptor{}, ErrNoAudioFormat
	}

	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].Bitrate > pool[j].Bitrate
	})
	return pool[0], nil
}

// filterStreams returns a new slice so sorting never reorders the caller's.
func filterStreams(in []StreamDescriptor, keep func(StreamDescriptor) bool) []StreamDescriptor {
	out := make([]StreamDescriptor, 0, len(in))
	for _, d := range in {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}
