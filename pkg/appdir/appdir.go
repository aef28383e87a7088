package appdir

import (
	"log"
	"os"
	"path/filepath"
	"sync"
)

const dirName = ".systerfun"

var (
	appDirCache string
	once        sync.Once
)

// AppDir returns the per-user state directory, creating it on first use.
// SYSTERFUN_HOME overrides the location.
func AppDir() string {
	once.Do(func() {
		if dir := os.Getenv("SYSTERFUN_HOME"); dir != "" {
			appDirCache = dir
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				log.Fatalf("%v", err)
			}
			appDirCache = filepath.Join(home, dirName)
		}
		if err := os.MkdirAll(appDirCache, 0755); err != nil {
			log.Printf("appdir: %v", err)
		}
	})
	return appDirCache
}

// Path joins name onto AppDir unless it is already absolute.
func Path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(AppDir(), name)
}
