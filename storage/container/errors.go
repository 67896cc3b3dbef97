package container

import "errors"

// ErrCompacted is returned by a point-in-time read whose requested time
// falls before the container's compaction watermark: Compact has
// already discarded the history needed to answer it correctly.
var ErrCompacted = errors.New("container: requested time has been compacted away")
