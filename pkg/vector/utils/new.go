package vectorutils

import (
	"fmt"
	"log/slog"

	"github.com/papercomputeco/recall/pkg/vector"
	"github.com/papercomputeco/recall/pkg/vector/chroma"
	"github.com/papercomputeco/recall/pkg/vector/chromem"
	"github.com/papercomputeco/recall/pkg/vector/sqlitevec"
)

// Vector store provider names.
const (
	ProviderSQLiteVec = "sqlitevec"
	ProviderChromem   = "chromem"
	ProviderChroma    = "chroma"
)

type NewVectorDriverOpts struct {
	ProviderType string

	// TargetURL is the chroma server URL, or the database path for
	// sqlite-vec and chromem.
	TargetURL string

	Dimensions uint
	Logger     *slog.Logger
}

func NewVectorDriver(o *NewVectorDriverOpts) (vector.Driver, error) {
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}

	switch o.ProviderType {
	case ProviderSQLiteVec:
		return sqlitevec.NewDriver(sqlitevec.Config{
			DBPath:     o.TargetURL,
			Dimensions: o.Dimensions,
		}, log)
	case ProviderChromem, "":
		return chromem.NewDriver(chromem.Config{
			Path:     o.TargetURL,
			Compress: true,
		}, log)
	case ProviderChroma:
		return chroma.NewDriver(chroma.Config{
			URL: o.TargetURL,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", o.ProviderType)
	}
}
