package admin

// Store defines the interface for API key storage.
// The in-memory KeyStore implements this interface.
type Store interface {
	Create(name string, scopes []string) (*APIKey, error)
	Add(name, key string, scopes []string) (*APIKey, error)
	Get(id string) (*APIKey, bool)
	List() []*APIKey
	Revoke(id string) error
	ValidateKey(key string) (*APIKey, bool)
}
