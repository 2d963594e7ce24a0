package models

// metadata keys set by the document loaders and the chunker
const (
	MetaSource      = "source"
	MetaFilePath    = "file_path"
	MetaRowID       = "row_id"
	MetaFileName    = "file_name"
	MetaPage        = "page"
	MetaSection     = "section"
	MetaSheet       = "sheet"
	MetaChunkIndex  = "chunk_index"
	MetaFingerprint = "fingerprint"
)

// artifacts persisted in every index directory
const (
	VectorFileName   = "index.chromem"
	DocstoreFileName = "index.json"
	LedgerFileName   = "ingested_meta.json"
	LockFileName     = ".index.lock"
)
