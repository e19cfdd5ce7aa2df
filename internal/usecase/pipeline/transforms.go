package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/domain/kgload"
	"kgload/internal/errs"
	"kgload/internal/infrastructure/csvio"
	"kgload/internal/manifest"
	"kgload/internal/ports"
	"kgload/internal/usecase/transform"
)

// step is one manifest transform prepared for execution.
type step struct {
	stage   string
	name    string
	inputs  []string
	outputs []string
	// key holds the flags that change the output for the same inputs.
	key string
	run func(ctx context.Context) (ports.StageResult, error)
}

func (s *Service) transforms(ctx context.Context, r *run) error {
	for _, st := range s.steps(r.manifest) {
		if err := s.runStep(ctx, r, st); err != nil {
			return err
		}
	}
	return nil
}

// runStep skips a step whose inputs and flags match the fingerprint cached by
// its last successful run, as long as its outputs are still there.
func (s *Service) runStep(ctx context.Context, r *run, st step) error {
	ctx = logging.WithAttrs(ctx, slog.String("stage", st.stage), slog.String("step", st.name))
	start := time.Now()

	cacheKey := fmt.Sprintf("fingerprint:%s:%s:%s", r.manifest.Dataset, st.stage, st.name)
	var fingerprint string
	if s.settings.Incremental && s.cache != nil {
		fp, err := csvio.Fingerprint(st.inputs, st.key, fmt.Sprintf("%+v", s.settings.CSV))
		if err != nil {
			logging.Warn(ctx, "fingerprint inputs failed", slog.Any("err", errs.Loggable(err)))
		} else {
			fingerprint = fp
		}
		if fingerprint != "" && !r.in.Force && allExist(st.outputs) {
			cached, found, err := s.cache.Get(ctx, cacheKey)
			if err != nil {
				logging.Warn(ctx, "read fingerprint cache failed", slog.Any("err", errs.Loggable(err)))
			}
			if found && cached == fingerprint {
				logging.Info(ctx, "inputs unchanged, skipping step", slog.String("fingerprint", fingerprint))
				res := stageResult(st.stage, st.name, start, nil)
				res.Status = ports.StageStatusSkipped
				res.Detail = "inputs unchanged"
				s.stage(ctx, r, res)
				return nil
			}
		}
	}

	res, err := st.run(ctx)
	res.Stage = st.stage
	res.Name = st.name
	res.Duration = time.Since(start)
	if err != nil {
		err = kgload.AtStage(st.stage, err)
		res.Status = ports.StageStatusFailed
		res.Detail = err.Error()
		s.stage(ctx, r, res)
		return err
	}
	res.Status = ports.StageStatusOK
	s.stage(ctx, r, res)

	if fingerprint != "" {
		if err := s.cache.Set(ctx, cacheKey, fingerprint, s.settings.CacheTTL); err != nil {
			logging.Warn(ctx, "write fingerprint cache failed", slog.Any("err", errs.Loggable(err)))
		}
	}
	return nil
}

func allExist(paths []string) bool {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func (s *Service) tolerance(override *int64) int64 {
	if override != nil {
		return *override
	}
	return s.settings.Tolerance
}

// steps lists the manifest transforms in execution order: extract, kgsplit,
// kgx_merge, kgx, join, enrich, dedupe.
func (s *Service) steps(m *manifest.Manifest) []step {
	opts := s.settings.CSV
	var out []step

	// Tolerance pointers are cleared before a step is formatted into its
	// cache key; the resolved value is appended instead.

	for _, e := range m.Extracts {
		in := transform.ExtractInput{Dump: e.Dump, Table: e.Table, Output: e.Output, CSV: opts}
		out = append(out, step{
			stage: kgload.StageExtract, name: e.Name,
			inputs: []string{e.Dump}, outputs: []string{e.Output},
			key: fmt.Sprintf("%+v", e),
			run: func(ctx context.Context) (ports.StageResult, error) {
				st, err := transform.ExtractInserts(ctx, in)
				return ports.StageResult{RowsIn: st.Statements, RowsOut: st.Rows}, err
			},
		})
	}

	for _, k := range m.KGSplits {
		tol := s.tolerance(k.Tolerance)
		k.Tolerance = nil
		in := transform.KGSplitInput{
			Input:       k.Input,
			NodesOut:    k.NodesOut,
			NodesHeader: k.NodesHeader,
			EdgesOut:    k.EdgesOut,
			EdgesHeader: k.EdgesHeader,
			StatsOut:    k.StatsOut,
			Tolerance:   tol,
			CSV:         opts,
		}
		out = append(out, step{
			stage: kgload.StageKGSplit, name: k.Name,
			inputs:  []string{k.Input},
			outputs: []string{k.NodesOut, k.NodesHeader, k.EdgesOut, k.EdgesHeader, k.StatsOut},
			key:     fmt.Sprintf("%+v tolerance=%d", k, in.Tolerance),
			run: func(ctx context.Context) (ports.StageResult, error) {
				st, err := transform.SplitPrimeKG(ctx, in)
				return ports.StageResult{
					RowsIn:  st.Rows + st.BadRows,
					RowsOut: st.Edges,
					BadRows: st.BadRows,
					Detail: fmt.Sprintf("nodes=%d duplicate_nodes=%d relation_types=%d",
						st.Nodes, st.DuplicateNodes, len(st.Relations)),
				}, err
			},
		})
	}

	for _, k := range m.KGXMerges {
		tol := s.tolerance(k.Tolerance)
		k.Tolerance = nil
		in := transform.KGXMergeInput{
			Nodes: k.Nodes, Edges: k.Edges,
			NodesOut: k.NodesOut, EdgesOut: k.EdgesOut,
			Tolerance: tol, CSV: opts,
		}
		out = append(out, step{
			stage: kgload.StageKGXMerge, name: k.Name,
			inputs:  append(append([]string{}, k.Nodes...), k.Edges...),
			outputs: []string{k.NodesOut, k.EdgesOut},
			key:     fmt.Sprintf("%+v tolerance=%d", k, in.Tolerance),
			run: func(ctx context.Context) (ports.StageResult, error) {
				st, err := transform.MergeKGX(ctx, in)
				return ports.StageResult{
					RowsIn:  st.NodesIn + st.Edges + st.BadRows,
					RowsOut: st.Nodes + st.Edges,
					BadRows: st.BadRows,
					Dropped: st.DuplicateNodes,
					Detail:  fmt.Sprintf("nodes=%d edges=%d", st.Nodes, st.Edges),
				}, err
			},
		})
	}

	for _, k := range m.KGX {
		tol := s.tolerance(k.Tolerance)
		k.Tolerance = nil
		in := transform.KGXInput{
			Nodes: k.Nodes, Edges: k.Edges,
			NodesOut: k.NodesOut, NodesHeader: k.NodesHeader,
			EdgesOut: k.EdgesOut, EdgesHeader: k.EdgesHeader,
			Tolerance: tol, CSV: opts,
		}
		out = append(out, step{
			stage: kgload.StageKGX, name: k.Name,
			inputs:  []string{k.Nodes, k.Edges},
			outputs: []string{k.NodesOut, k.NodesHeader, k.EdgesOut, k.EdgesHeader},
			key:     fmt.Sprintf("%+v tolerance=%d", k, in.Tolerance),
			run: func(ctx context.Context) (ports.StageResult, error) {
				st, err := transform.ConvertKGX(ctx, in)
				bad := st.BadNodes + st.BadEdges
				return ports.StageResult{
					RowsIn:  st.Nodes + st.Edges + bad,
					RowsOut: st.Nodes + st.Edges,
					BadRows: bad,
					Detail:  fmt.Sprintf("nodes=%d edges=%d", st.Nodes, st.Edges),
				}, err
			},
		})
	}

	for _, j := range m.Joins {
		tol := s.tolerance(j.Tolerance)
		j.Tolerance = nil
		in := transform.JoinInput{
			Primary: j.Primary, PrimaryHeader: j.PrimaryHeader, PrimaryKey: j.PrimaryKey,
			Auxiliary: j.Auxiliary, AuxiliaryHeader: j.AuxiliaryHeader, AuxiliaryKey: j.AuxiliaryKey,
			Output: j.Output, OutputHeader: j.OutputHeader,
			Mode: j.Mode, Tolerance: tol, Workers: s.settings.Workers, CSV: opts,
		}
		out = append(out, step{
			stage: kgload.StageJoin, name: j.Name,
			inputs:  []string{j.Primary, j.PrimaryHeader, j.Auxiliary, j.AuxiliaryHeader},
			outputs: []string{j.Output, j.OutputHeader},
			key:     fmt.Sprintf("%+v tolerance=%d", j, in.Tolerance),
			run: func(ctx context.Context) (ports.StageResult, error) {
				st, err := transform.Join(ctx, in)
				return ports.StageResult{
					RowsIn:  st.PrimaryRows,
					RowsOut: st.OutputRows,
					BadRows: st.BadRows(),
					Dropped: st.Dropped,
					Detail: fmt.Sprintf("auxiliary=%d duplicates=%d matched=%d unmatched=%d",
						st.AuxiliaryRows, st.AuxiliaryDuplicates, st.Matched, st.Unmatched),
				}, err
			},
		})
	}

	for _, e := range m.Enrichments {
		tol := s.tolerance(e.Tolerance)
		e.Tolerance = nil
		in := transform.EnrichInput{
			Reference: e.Reference, ReferenceHeader: e.ReferenceHeader,
			ReferenceKey: e.ReferenceKey, ReferenceScore: e.ReferenceScore,
			Target: e.Target, TargetHeader: e.TargetHeader, TargetKey: e.TargetKey,
			Output: e.Output, OutputHeader: e.OutputHeader,
			FlagColumn: e.FlagColumn, ScoreColumn: e.ScoreColumn,
			Tolerance: tol, Workers: s.settings.Workers, CSV: opts,
		}
		out = append(out, step{
			stage: kgload.StageEnrich, name: e.Name,
			inputs:  []string{e.Reference, e.ReferenceHeader, e.Target, e.TargetHeader},
			outputs: []string{e.Output, e.OutputHeader},
			key:     fmt.Sprintf("%+v tolerance=%d", e, in.Tolerance),
			run: func(ctx context.Context) (ports.StageResult, error) {
				st, err := transform.Enrich(ctx, in)
				return ports.StageResult{
					RowsIn:  st.TargetRows,
					RowsOut: st.OutputRows,
					BadRows: st.BadRows(),
					Detail: fmt.Sprintf("reference=%d duplicates=%d flagged=%d",
						st.ReferenceRows, st.ReferenceDuplicates, st.Flagged),
				}, err
			},
		})
	}

	for _, d := range m.Dedupes {
		in := transform.DedupeInput{Input: d.Input, Output: d.Output, KeyColumns: d.KeyColumns, HasHeader: d.HasHeader, CSV: opts}
		out = append(out, step{
			stage: kgload.StageDedupe, name: d.Name,
			inputs: []string{d.Input}, outputs: []string{d.Output},
			key: fmt.Sprintf("%+v", d),
			run: func(ctx context.Context) (ports.StageResult, error) {
				st, err := transform.Dedupe(ctx, in)
				return ports.StageResult{
					RowsIn:  st.Rows,
					RowsOut: st.Unique,
					BadRows: st.ShortRows,
					Dropped: st.Rows - st.Unique - st.ShortRows,
				}, err
			},
		})
	}

	for i := range out {
		out[i].inputs = nonEmpty(out[i].inputs)
		out[i].outputs = nonEmpty(out[i].outputs)
	}
	return out
}

func nonEmpty(paths []string) []string {
	out := paths[:0]
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// sourceInputs lists the files a run needs before it starts: step inputs and
// import files that no step produces.
func sourceInputs(m *manifest.Manifest, withImport, skipTransforms bool) []transform.InputFile {
	produced := map[string]bool{}
	var files []transform.InputFile
	add := func(role, path string) {
		if path == "" {
			return
		}
		files = append(files, transform.InputFile{Role: role, Path: path})
	}

	if !skipTransforms {
		for _, e := range m.Extracts {
			add(e.Name+" sql dump", e.Dump)
			produced[clean(e.Output)] = true
		}
		for _, k := range m.KGSplits {
			add(k.Name+" primekg", k.Input)
			for _, p := range []string{k.NodesOut, k.NodesHeader, k.EdgesOut, k.EdgesHeader, k.StatsOut} {
				produced[clean(p)] = true
			}
		}
		for _, k := range m.KGXMerges {
			for _, p := range k.Nodes {
				add(k.Name+" kgx nodes", p)
			}
			for _, p := range k.Edges {
				add(k.Name+" kgx edges", p)
			}
			produced[clean(k.NodesOut)] = true
			produced[clean(k.EdgesOut)] = true
		}
		for _, k := range m.KGX {
			add(k.Name+" kgx nodes", k.Nodes)
			add(k.Name+" kgx edges", k.Edges)
			for _, p := range []string{k.NodesOut, k.NodesHeader, k.EdgesOut, k.EdgesHeader} {
				produced[clean(p)] = true
			}
		}
		for _, j := range m.Joins {
			add(j.Name+" primary", j.Primary)
			add(j.Name+" primary header", j.PrimaryHeader)
			add(j.Name+" auxiliary", j.Auxiliary)
			add(j.Name+" auxiliary header", j.AuxiliaryHeader)
			produced[clean(j.Output)] = true
			produced[clean(j.OutputHeader)] = true
		}
		for _, e := range m.Enrichments {
			add(e.Name+" reference", e.Reference)
			add(e.Name+" reference header", e.ReferenceHeader)
			add(e.Name+" target", e.Target)
			add(e.Name+" target header", e.TargetHeader)
			produced[clean(e.Output)] = true
			produced[clean(e.OutputHeader)] = true
		}
		for _, d := range m.Dedupes {
			add(d.Name+" input", d.Input)
			produced[clean(d.Output)] = true
		}
	}
	if withImport {
		for _, g := range m.Nodes {
			add("node header", g.Header)
			for _, f := range g.Files {
				add("node data", f)
			}
		}
		for _, g := range m.Relationships {
			add("relationship header", g.Header)
			for _, f := range g.Files {
				add("relationship data", f)
			}
		}
		add("schema script", m.Schema.File)
	}

	out := files[:0]
	seen := map[string]bool{}
	for _, f := range files {
		p := clean(f.Path)
		if produced[p] || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, f)
	}
	return out
}

func clean(p string) string {
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}
