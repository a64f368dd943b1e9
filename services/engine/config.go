package engine

// Engine configuration

const (
	DefaultDataset        = "dataset"
	DefaultRandomBatchMin = 16
	DefaultRandomBatchMax = 4096
)

// Config locates datasets and bounds random-mode batching.
type Config struct {
	// DatasetsPath is the directory holding one sub-directory per dataset.
	DatasetsPath string
	// Dataset is used when a request names none.
	Dataset string
	// RandomBatchMax caps the number of draws resolved per streaming pass.
	RandomBatchMax int
}

func (c Config) withDefaults() Config {
	if c.DatasetsPath == "" {
		c.DatasetsPath = "datasets"
	}
	if c.Dataset == "" {
		c.Dataset = DefaultDataset
	}
	if c.RandomBatchMax < DefaultRandomBatchMin {
		c.RandomBatchMax = DefaultRandomBatchMax
	}
	return c
}
