package cli

import (
	"context"
	"io"
	"sync"

	"github.com/dmitrijs2005/gophbackup/internal/backup"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
)

// barScale turns the [0,1] job progress into mpb's integer counters.
const barScale = 1000

// progressBar renders one job as an mpb bar. Updates arrive on the job
// dispatcher; rendering happens on mpb's own goroutine.
type progressBar struct {
	mu    sync.Mutex
	pb    *mpb.Progress
	bar   *mpb.Bar
	title string
	desc  string
}

func newProgressBar(ctx context.Context, w io.Writer, title string) *progressBar {
	p := &progressBar{title: title}
	p.pb = mpb.NewWithContext(ctx, mpb.WithOutput(w), mpb.WithWidth(48))
	p.bar = p.pb.AddBar(barScale,
		mpb.PrependDecorators(
			decor.Name(title, decor.WCSyncSpaceR),
			decor.Any(func(decor.Statistics) string {
				p.mu.Lock()
				defer p.mu.Unlock()
				return p.desc
			}, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Percentage(decor.WC{W: 5}), "done"),
		),
	)
	return p
}

func (p *progressBar) update(_ backup.Kind, description backup.Optional[string], progress backup.Optional[float64]) {
	if d, ok := description.Get(); ok {
		p.mu.Lock()
		p.desc = d
		p.mu.Unlock()
	}
	if f, ok := progress.Get(); ok {
		p.bar.SetCurrent(int64(f * barScale))
	}
}

// finish completes the bar on success and drops it otherwise, then waits
// for the last render.
func (p *progressBar) finish(ok bool) {
	if ok {
		p.bar.SetTotal(-1, true)
	} else {
		p.bar.Abort(false)
	}
	p.pb.Wait()
}
