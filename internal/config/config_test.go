package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "srcs")
	build := filepath.Join(dir, "build")
	assert.NoError(t, os.Mkdir(src, 0750))
	assert.NoError(t, os.Mkdir(build, 0750))
	file := filepath.Join(dir, "file")
	assert.NoError(t, os.WriteFile(file, nil, 0600))
	valid := Config{
		SourceRoot:    src,
		BuildRoot:     build,
		BaseDatabase:  filepath.Join(dir, ".base_dependency_database"),
		LocalDatabase: filepath.Join(build, ".dependency_database"),
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "Valid", mutate: func(*Config) {}},
		{name: "MissingSource", mutate: func(c *Config) { c.SourceRoot = "" }, wantErr: "source root is not set"},
		{name: "MissingBuild", mutate: func(c *Config) { c.BuildRoot = "" }, wantErr: "build root is not set"},
		{name: "MissingDatabase", mutate: func(c *Config) { c.LocalDatabase = "" }, wantErr: "local dependency database is not set"},
		{name: "SourceDoesNotExist", mutate: func(c *Config) { c.SourceRoot = filepath.Join(dir, "nope") }, wantErr: "no such file"},
		{name: "BuildIsFile", mutate: func(c *Config) { c.BuildRoot = file }, wantErr: "is not a directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.IsError(t, err, ErrConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSplitPathList(t *testing.T) {
	assert.Equal(t, []string{"/products", "/opt/larsoft/products"}, SplitPathList("/products/::/opt/larsoft/products"))
	assert.Equal(t, []string{}, SplitPathList(""))
}
