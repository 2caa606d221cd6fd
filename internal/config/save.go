package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stratuscode/stratus/internal/credentials"
	"gopkg.in/yaml.v3"
)

// SaveOAuth writes a refreshed OAuth record to providers.<key>.oauth in the
// config file. The file is edited as a YAML node tree so comments and key
// order elsewhere survive. The file is created if needed.
func (c *Config) SaveOAuth(providerKey string, rec credentials.Record) error {
	path, err := c.Path()
	if err != nil {
		return err
	}

	var doc yaml.Node
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("failed to update %s: top level is not a mapping", path)
	}

	var oauth yaml.Node
	if err := oauth.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode oauth record: %w", err)
	}
	provider := childMapping(childMapping(root, "providers"), providerKey)
	setMappingValue(provider, "oauth", &oauth)
	if mappingValue(provider, "credentials") == nil {
		setMappingValue(provider, "credentials", &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: CredentialsOAuth})
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0600)
}

// mappingValue returns the value node for key in a mapping node, or nil.
func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// setMappingValue replaces the value for key, appending the pair if absent.
func setMappingValue(m *yaml.Node, key string, v *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = v
			return
		}
	}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		v,
	)
}

// childMapping returns the mapping under key, replacing an empty or scalar
// value with a new mapping.
func childMapping(m *yaml.Node, key string) *yaml.Node {
	if v := mappingValue(m, key); v != nil && v.Kind == yaml.MappingNode {
		return v
	}
	child := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	setMappingValue(m, key, child)
	return child
}
