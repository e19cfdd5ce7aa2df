package neo4jadmin

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/domain/kgload"
	"kgload/internal/errs"
)

const (
	DefaultNodeStore         = "neostore.nodestore.db"
	DefaultRelationshipStore = "neostore.relationshipstore.db"
)

// Artifact is a store file that must exist and be non-empty after import.
type Artifact struct {
	Name string
	Path string
	Size int64
}

// StoreArtifacts lists the node and relationship store files of a database
// directory. Empty names use the Neo4j defaults.
func StoreArtifacts(storeDir, nodeStore, relStore string) []Artifact {
	if nodeStore == "" {
		nodeStore = DefaultNodeStore
	}
	if relStore == "" {
		relStore = DefaultRelationshipStore
	}
	return []Artifact{
		{Name: "node store", Path: filepath.Join(storeDir, nodeStore)},
		{Name: "relationship store", Path: filepath.Join(storeDir, relStore)},
	}
}

// VerifyStore stats every artifact. The returned slice carries the sizes
// found; the error is the first *kgload.VerificationFailure.
func VerifyStore(ctx context.Context, artifacts []Artifact) ([]Artifact, error) {
	ctx = logging.WithAttrs(ctx, slog.String("component", "neo4jadmin"), slog.String("stage", kgload.StageVerify))

	checked := make([]Artifact, 0, len(artifacts))
	var failure error
	for _, a := range artifacts {
		info, err := os.Stat(a.Path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			failure = firstErr(failure, &kgload.VerificationFailure{Artifact: a.Name, Path: a.Path, Reason: "file does not exist"})
		case err != nil:
			failure = firstErr(failure, errs.Wrapf(err, "stat %s", a.Path))
		case info.IsDir():
			failure = firstErr(failure, &kgload.VerificationFailure{Artifact: a.Name, Path: a.Path, Reason: "is a directory"})
		case info.Size() == 0:
			failure = firstErr(failure, &kgload.VerificationFailure{Artifact: a.Name, Path: a.Path, Reason: "file is empty"})
		default:
			a.Size = info.Size()
			logging.Info(ctx, "store file ok", slog.String("artifact", a.Name), slog.String("size", humanize.Bytes(uint64(a.Size))))
		}
		checked = append(checked, a)
	}

	if failure != nil {
		logging.Error(ctx, "store verification failed", slog.Any("err", errs.Loggable(failure)))
		return checked, kgload.AtStage(kgload.StageVerify, failure)
	}
	return checked, nil
}

func firstErr(cur, next error) error {
	if cur != nil {
		return cur
	}
	return next
}
