package upload

import (
	"io"
)

// directProgressCap keeps byte-level progress below 100 until the boundary
// confirms the upload.
const directProgressCap = 99

// progressReader reports byte-level read progress as a 0..99 percentage.
// Seeking back to the start (a retry rewind) resets the counter; the task
// store's monotone guard keeps observers from seeing the reset.
type progressReader struct {
	src        io.ReadSeeker
	total      int64
	read       int64
	onProgress func(percent int)
}

func newProgressReader(src io.ReadSeeker, total int64, onProgress func(int)) *progressReader {
	return &progressReader{src: src, total: total, onProgress: onProgress}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.src.Read(b)
	if n > 0 {
		p.read += int64(n)
		if p.onProgress != nil && p.total > 0 {
			percent := int(p.read * directProgressCap / p.total)
			if percent > directProgressCap {
				percent = directProgressCap
			}
			p.onProgress(percent)
		}
	}
	return n, err
}

func (p *progressReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.src.Seek(offset, whence)
	if err == nil {
		p.read = pos
	}
	return pos, err
}

// chunkedProgress converts a confirmed-chunk count into the overall task
// percentage. The final 5% is reserved for the finalize step, so a caller
// never observes 100% before the resource is durable.
func chunkedProgress(uploaded, total int) int {
	if total <= 0 {
		return 0
	}
	return int(float64(uploaded)/float64(total)*95 + 0.5)
}
