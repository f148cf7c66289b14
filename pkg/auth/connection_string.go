package auth

import (
	"fmt"
	"strings"
)

// ParseConnectionString splits an "endpoint=<url>;accesskey=<base64>"
// connection string into its endpoint and shared-key credential. Key names
// are case-insensitive; unknown segments are ignored.
func ParseConnectionString(connectionString string) (string, *SharedKeyCredential, error) {
	var endpoint, accessKey string
	for _, segment := range strings.Split(connectionString, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		// Access keys are base64 and may contain '='; split on the first only.
		name, value, found := strings.Cut(segment, "=")
		if !found {
			return "", nil, fmt.Errorf("malformed connection string segment %q", segment)
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "endpoint":
			endpoint = strings.TrimSpace(value)
		case "accesskey":
			accessKey = strings.TrimSpace(value)
		}
	}
	if endpoint == "" {
		return "", nil, fmt.Errorf("connection string is missing endpoint")
	}
	if accessKey == "" {
		return "", nil, fmt.Errorf("connection string is missing accesskey")
	}
	credential, err := NewSharedKeyCredential(accessKey)
	if err != nil {
		return "", nil, err
	}
	return strings.TrimRight(endpoint, "/"), credential, nil
}
