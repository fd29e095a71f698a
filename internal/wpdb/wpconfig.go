package wpdb

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// Credentials holds the database settings parsed out of a wp-config.php.
type Credentials struct {
	Name     string
	User     string
	Password string
	Host     string
	Prefix   string
}

var (
	defineRe = regexp.MustCompile(`define\(\s*['"]([A-Z_]+)['"]\s*,\s*['"]([^'"]*)['"]\s*\)`)
	prefixRe = regexp.MustCompile(`\$table_prefix\s*=\s*['"]([^'"]+)['"]`)
)

// ParseWPConfig extracts database credentials and the table prefix from the
// wp-config.php in root. The prefix defaults to "wp_" when the assignment is
// absent, matching WordPress itself.
func ParseWPConfig(root string) (Credentials, error) {
	path := filepath.Join(root, "wp-config.php")
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return parseWPConfigBytes(data, path)
}

func parseWPConfigBytes(data []byte, path string) (Credentials, error) {
	creds := Credentials{Host: "localhost", Prefix: "wp_"}

	for _, m := range defineRe.FindAllSubmatch(data, -1) {
		key, val := string(m[1]), string(m[2])
		switch key {
		case "DB_NAME":
			creds.Name = val
		case "DB_USER":
			creds.User = val
		case "DB_PASSWORD":
			creds.Password = val
		case "DB_HOST":
			creds.Host = val
		}
	}

	if m := prefixRe.FindSubmatch(data); m != nil {
		creds.Prefix = string(m[1])
	}

	if creds.Name == "" || creds.User == "" {
		return Credentials{}, fmt.Errorf("%s: DB_NAME or DB_USER not found", path)
	}
	return creds, nil
}

// DSN returns the go-sql-driver DSN for the parsed credentials.
func (c Credentials) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&multiStatements=true", c.User, c.Password, c.Host, c.Name)
}
