package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// RealmConfig describes one realm in the registry: its URL-space identity
// and the fixture files its definitions and content are loaded from.
// Relative paths resolve against the config file's directory.
type RealmConfig struct {
	Name        string
	URL         string
	Definitions string // YAML definitions file (see defs.LoadStaticProvider)
	Content     string // YAML content fixture (optional, used by the index command)
}

// Config is the realm registry loaded from a CUE file:
//
//	realms: demo: {
//	    url:         "https://demo.realm.local/"
//	    definitions: "definitions.yaml"
//	    content:     "content.yaml"
//	}
type Config struct {
	Realms []RealmConfig
}

// Realm finds a realm by name or URL.
func (c *Config) Realm(nameOrURL string) (RealmConfig, bool) {
	for _, r := range c.Realms {
		if r.Name == nameOrURL || r.URL == nameOrURL {
			return r, true
		}
	}
	return RealmConfig{}, false
}

// LoadError represents an error that occurred during config loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadConfig loads the realm registry from a CUE file or a directory of
// CUE files.
func LoadConfig(path string) (*Config, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing config: %v", err)}
	}

	dir := path
	args := []string{"."}
	if !info.IsDir() {
		dir = filepath.Dir(path)
		args = []string{filepath.Base(path)}
	}

	ctx := cuecontext.New()
	instances := load.Instances(args, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE config: %v", inst.Err)}
	}
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	realmsVal := value.LookupPath(cue.ParsePath("realms"))
	if !realmsVal.Exists() {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "config has no realms"}
	}
	iter, err := realmsVal.Fields()
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("iterating realms: %v", err)}
	}

	config := &Config{}
	for iter.Next() {
		realm, err := compileRealm(iter.Label(), iter.Value(), dir)
		if err != nil {
			return nil, err
		}
		config.Realms = append(config.Realms, realm)
	}
	if len(config.Realms) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "config defines no realms"}
	}
	return config, nil
}

func compileRealm(name string, value cue.Value, baseDir string) (RealmConfig, error) {
	realm := RealmConfig{Name: name}

	urlVal := value.LookupPath(cue.ParsePath("url"))
	if !urlVal.Exists() {
		return realm, &LoadError{
			Code:    ErrCodeBuildFailed,
			Message: fmt.Sprintf("realm %s: missing url", name),
			Pos:     value.Pos(),
		}
	}
	u, err := urlVal.String()
	if err != nil {
		return realm, &LoadError{
			Code:    ErrCodeBuildFailed,
			Message: fmt.Sprintf("realm %s: url: %v", name, err),
			Pos:     urlVal.Pos(),
		}
	}
	realm.URL = u

	if defsVal := value.LookupPath(cue.ParsePath("definitions")); defsVal.Exists() {
		path, err := defsVal.String()
		if err != nil {
			return realm, &LoadError{
				Code:    ErrCodeBuildFailed,
				Message: fmt.Sprintf("realm %s: definitions: %v", name, err),
				Pos:     defsVal.Pos(),
			}
		}
		realm.Definitions = resolvePath(baseDir, path)
	}
	if contentVal := value.LookupPath(cue.ParsePath("content")); contentVal.Exists() {
		path, err := contentVal.String()
		if err != nil {
			return realm, &LoadError{
				Code:    ErrCodeBuildFailed,
				Message: fmt.Sprintf("realm %s: content: %v", name, err),
				Pos:     contentVal.Pos(),
			}
		}
		realm.Content = resolvePath(baseDir, path)
	}
	return realm, nil
}

func resolvePath(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
