package transform

import (
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

const batchSize = 2048

// Source yields the next well-formed row, or io.EOF.
type Source func() ([]string, error)

// Mapper is a pure row function. keep=false drops the row. It runs on several
// goroutines at once, so it may only read shared state.
type Mapper func(row []string) (out []string, keep bool)

// Sink receives mapped rows in input order.
type Sink func(row []string) error

// Counts summarises one streamed pass.
type Counts struct {
	In      int64
	Out     int64
	Dropped int64
}

type batch struct {
	seq  int
	rows [][]string
}

// Stream runs src through m into sink. With workers > 1 the mapping fans out
// over batches and a reorder step keeps the output in input order.
func Stream(ctx context.Context, src Source, m Mapper, sink Sink, workers int) (Counts, error) {
	if workers <= 1 {
		return streamSerial(ctx, src, m, sink)
	}

	var counts Counts
	g, gctx := errgroup.WithContext(ctx)
	in := make(chan *batch, workers)
	out := make(chan *batch, workers)

	g.Go(func() error {
		defer close(in)
		for seq := 0; ; seq++ {
			b := &batch{seq: seq, rows: make([][]string, 0, batchSize)}
			eof := false
			for len(b.rows) < batchSize {
				row, err := src()
				if errors.Is(err, io.EOF) {
					eof = true
					break
				}
				if err != nil {
					return err
				}
				b.rows = append(b.rows, row)
			}
			if len(b.rows) > 0 {
				select {
				case in <- b:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if eof {
				return nil
			}
		}
	})

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for b := range in {
				for j, row := range b.rows {
					mapped, keep := m(row)
					if !keep {
						mapped = nil
					}
					b.rows[j] = mapped
				}
				select {
				case out <- b:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		wg.Wait()
		close(out)
		return nil
	})

	g.Go(func() error {
		pending := make(map[int]*batch)
		next := 0
		for b := range out {
			pending[b.seq] = b
			for {
				ready, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				for _, row := range ready.rows {
					counts.In++
					if row == nil {
						counts.Dropped++
						continue
					}
					if err := sink(row); err != nil {
						return err
					}
					counts.Out++
				}
			}
		}
		return nil
	})

	err := g.Wait()
	return counts, err
}

func streamSerial(ctx context.Context, src Source, m Mapper, sink Sink) (Counts, error) {
	var counts Counts
	for {
		if counts.In%batchSize == 0 {
			if err := ctx.Err(); err != nil {
				return counts, err
			}
		}
		row, err := src()
		if errors.Is(err, io.EOF) {
			return counts, nil
		}
		if err != nil {
			return counts, err
		}
		counts.In++
		mapped, keep := m(row)
		if !keep {
			counts.Dropped++
			continue
		}
		if err := sink(mapped); err != nil {
			return counts, err
		}
		counts.Out++
	}
}
