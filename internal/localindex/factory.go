package localindex

import "fmt"

// Config selects and configures a LocalIndex backend.
type Config struct {
	Engine   string // "sqlite" or "postgres"
	Path     string // sqlite file path, or ":memory:"
	User     string
	Password string
	Host     string
	DB       string
}

// New builds a LocalIndex from cfg.
func New(cfg Config) (*Store, error) {
	switch cfg.Engine {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		return NewSQLite(path)
	case "postgres":
		dsn := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", cfg.User, cfg.Password, cfg.Host, cfg.DB)
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown local index engine: %s", cfg.Engine)
	}
}
