package errors

const StorageDomain = "storage"

// Storage error codes
const (
	StorageErrConnection      = "STORAGE_CONNECTION"
	StorageErrRead            = "STORAGE_READ"
	StorageErrWrite           = "STORAGE_WRITE"
	StorageErrDelete          = "STORAGE_DELETE"
	StorageErrNotFound        = "STORAGE_NOT_FOUND"
	StorageErrInvalidValue    = "STORAGE_INVALID_VALUE"
	StorageErrSerialization   = "STORAGE_SERIALIZATION"
	StorageErrDeserialization = "STORAGE_DESERIALIZATION"
	// StorageErrConflict is an optimistic transaction that kept losing races.
	StorageErrConflict = "STORAGE_CONFLICT"
	// StorageErrUnsupportedBackend is an unknown storage.backend value.
	StorageErrUnsupportedBackend = "STORAGE_UNSUPPORTED_BACKEND"
)

// Storage operations
const (
	OpConnect     = "Connect"
	OpGet         = "Get"
	OpSet         = "Set"
	OpDelete      = "Delete"
	OpUpdate      = "Update"
	OpPing        = "Ping"
	OpSerialize   = "Serialize"
	OpDeserialize = "Deserialize"
)

func NewStorageError(code string, message string, err error) error {
	return newError(StorageDomain, "", code, message, err)
}

func StorageErrorf(code string, format string, args ...interface{}) error {
	return newError(StorageDomain, "", code, Sprintf(format, args...), nil)
}

// StorageWrapWithCode returns nil when err is nil.
func StorageWrapWithCode(err error, operation string, code string, message string) error {
	return wrapError(StorageDomain, operation, code, message, err)
}

func IsStorageError(err error, code string) bool {
	return hasCode(err, StorageDomain, code)
}
