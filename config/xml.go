package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// xmlConfig mirrors the legacy githubissues.xml layout:
//
//	<github-issues-configuration>
//	    <github-api>https://api.github.com/</github-api>
//	    <github-repository>
//	        <user>github-user</user>
//	        <name>github-repository</name>
//	        <credentials>
//	            <user>github-user</user>
//	            <password>secret</password>
//	        </credentials>
//	    </github-repository>
//	</github-issues-configuration>
//
// The root element name is not checked.
type xmlConfig struct {
	APIURL       string          `xml:"github-api"`
	Repositories []xmlRepository `xml:"github-repository"`
}

type xmlRepository struct {
	User        string         `xml:"user"`
	Name        string         `xml:"name"`
	Credentials xmlCredentials `xml:"credentials"`
}

type xmlCredentials struct {
	User     string `xml:"user"`
	Password string `xml:"password"`
}

// LoadXML loads a legacy githubissues.xml file. Settings the format has no
// room for come from the defaults and GHGRAPH_ environment variables.
func LoadXML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var doc xmlConfig
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	v := newViper()
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	if api := strings.TrimSpace(doc.APIURL); api != "" {
		config.APIURL = api
	}
	for _, r := range doc.Repositories {
		config.Repositories = append(config.Repositories, Repository{
			User: strings.TrimSpace(r.User),
			Name: strings.TrimSpace(r.Name),
			Credentials: Credentials{
				User:     strings.TrimSpace(r.Credentials.User),
				Password: r.Credentials.Password,
			},
		})
	}

	config.finish(path)
	return &config, nil
}

// Load picks the loader by file extension: .xml files use the legacy
// format, anything else goes through LoadConfig.
func Load(path string) (*Config, error) {
	if strings.EqualFold(filepath.Ext(path), ".xml") {
		return LoadXML(path)
	}
	return LoadConfig(path)
}
