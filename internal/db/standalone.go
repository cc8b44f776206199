package db

// Standalone constructors for embedding a single collection without a
// registry, mirroring the registry's create/open paths.

// NewInMemory creates an unregistered in-memory collection with default
// settings: cosine metric, no quantization.
func NewInMemory(dimensions int) (*Collection, error) {
	return newCollection("default", CollectionConfig{
		Dimensions: dimensions,
	})
}

// OpenCollection opens (or creates) a standalone persistent collection at
// path, validating any committed manifest against conf.
func OpenCollection(path string, conf CollectionConfig) (*Collection, error) {
	conf.Persistent = true
	conf.DataPath = path
	return openCollection("default", conf)
}
