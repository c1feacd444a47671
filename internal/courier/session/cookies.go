package session

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// cookieFile is the on-disk shape for a persisted cookie set.
type cookieFile struct {
	Cookies []StoredCookie `yaml:"cookies"`
}

// ExportCookies snapshots the session's cookie jar for the bootstrap origin
// so a later process can resume without re-authenticating.
func (s *Session) ExportCookies() ([]StoredCookie, error) {
	u, err := url.Parse(s.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	jarCookies := s.HTTP().Cookies(u)
	cookies := make([]StoredCookie, 0, len(jarCookies))
	for _, c := range jarCookies {
		cookies = append(cookies, StoredCookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	return cookies, nil
}

// SaveCookies writes the current cookie set to a YAML file with restrictive
// permissions; the file is a full credential.
func (s *Session) SaveCookies(path string) error {
	cookies, err := s.ExportCookies()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cookieFile{Cookies: cookies})
	if err != nil {
		return fmt.Errorf("failed to marshal cookies: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cookie file: %w", err)
	}
	return nil
}

// LoadCookies reads a cookie set previously written by SaveCookies.
func LoadCookies(path string) ([]StoredCookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie file: %w", err)
	}
	var f cookieFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse cookie file: %w", err)
	}
	if len(f.Cookies) == 0 {
		return nil, fmt.Errorf("cookie file %s holds no cookies", path)
	}
	return f.Cookies, nil
}
