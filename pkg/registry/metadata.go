// Package registry keeps what modkit knows about downloadable resources:
// their content identity, integrity digests, how far each record is
// trusted, and which identities are blocked.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-version"

	"github.com/glorpus-work/modkit/pkg/errors"
	"github.com/glorpus-work/modkit/pkg/integrity"
)

// SchemaVersion is written into every record.
const SchemaVersion = "1.0"

// supportedSchema is the range of record versions this build reads.
var supportedSchema = version.MustConstraints(version.NewConstraint(">= 1.0, < 2.0"))

// TrustLevel ranks how far a record has been confirmed.
type TrustLevel int

const (
	// TrustUnverified records were declared but never checked.
	TrustUnverified TrustLevel = iota
	// TrustObserved records were hashed after one download.
	TrustObserved
	// TrustVerified records matched a second independent check.
	TrustVerified
	// TrustConfirmed records matched repeatedly.
	TrustConfirmed
)

// confirmationsForConfirmed is how many matching checks promote a record
// to TrustConfirmed.
const confirmationsForConfirmed = 3

// String implements fmt.Stringer.
func (t TrustLevel) String() string {
	switch t {
	case TrustUnverified:
		return "unverified"
	case TrustObserved:
		return "observed"
	case TrustVerified:
		return "verified"
	case TrustConfirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("trust(%d)", int(t))
	}
}

// NameStatus records whether a file name is known to belong to a resource.
type NameStatus int

const (
	// NameUnknown names were declared but never confirmed either way.
	NameUnknown NameStatus = iota
	// NameCorrect names were confirmed to hold the resource's bytes.
	NameCorrect
	// NameWrong names were confirmed to hold something else.
	NameWrong
)

// String implements fmt.Stringer.
func (s NameStatus) String() string {
	switch s {
	case NameUnknown:
		return "unknown"
	case NameCorrect:
		return "correct"
	case NameWrong:
		return "wrong"
	default:
		return fmt.Sprintf("name(%d)", int(s))
	}
}

// ResourceMetadata is the registry record of one resource.
type ResourceMetadata struct {
	ContentID     string           `json:"content_id" yaml:"content_id"`
	URL           string           `json:"url" yaml:"url"`
	FileName      string           `json:"file_name,omitempty" yaml:"file_name,omitempty"`
	Digest        integrity.Digest `json:"digest" yaml:"digest"`
	Trust         TrustLevel       `json:"trust" yaml:"trust"`
	Confirmations int              `json:"confirmations" yaml:"confirmations"`
	SchemaVersion string           `json:"schema_version" yaml:"schema_version"`
	FirstSeen     time.Time        `json:"first_seen,omitempty" yaml:"first_seen,omitempty"`
	FetchedAt     time.Time        `json:"fetched_at,omitempty" yaml:"fetched_at,omitempty"`
	VerifiedAt    time.Time        `json:"verified_at,omitempty" yaml:"verified_at,omitempty"`
	// KnownNames maps every file name the resource was declared under to
	// what is known about it.
	KnownNames map[string]NameStatus `json:"known_names,omitempty" yaml:"known_names,omitempty"`
	// HandlerMetadata is free-form data from whoever declared the resource,
	// such as a host's numeric file id.
	HandlerMetadata map[string]string `json:"handler_metadata,omitempty" yaml:"handler_metadata,omitempty"`
}

// MetadataHash identifies a record by what was declared about it: content
// id, URL, file name and handler metadata. Downloading the resource never
// changes it.
func (m *ResourceMetadata) MetadataHash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%s\n", m.ContentID, m.URL, m.FileName)
	keys := make([]string, 0, len(m.HandlerMetadata))
	for k := range m.HandlerMetadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s\n", k, m.HandlerMetadata[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (m *ResourceMetadata) clone() *ResourceMetadata {
	cp := *m
	cp.Digest.Pieces = append([]string(nil), m.Digest.Pieces...)
	if m.KnownNames != nil {
		cp.KnownNames = make(map[string]NameStatus, len(m.KnownNames))
		for k, v := range m.KnownNames {
			cp.KnownNames[k] = v
		}
	}
	if m.HandlerMetadata != nil {
		cp.HandlerMetadata = make(map[string]string, len(m.HandlerMetadata))
		for k, v := range m.HandlerMetadata {
			cp.HandlerMetadata[k] = v
		}
	}
	return &cp
}

// CheckSchema reports ErrUnsupportedSchema for records this build cannot read.
func (m *ResourceMetadata) CheckSchema() error {
	v, err := version.NewVersion(m.SchemaVersion)
	if err != nil {
		return errors.Wrapf(errors.ErrUnsupportedSchema, "%q", m.SchemaVersion)
	}
	if !supportedSchema.Check(v) {
		return errors.Wrapf(errors.ErrUnsupportedSchema, "%s is outside %s", v, supportedSchema)
	}
	return nil
}

// ContentID derives the identity of a resource. A declared SHA-256 wins,
// since it names the bytes themselves; otherwise the normalized URL is used
// so that superficially different links share one identity.
func ContentID(rawURL, sha256Hex string) (string, error) {
	if sum := strings.ToLower(strings.TrimSpace(sha256Hex)); sum != "" {
		if _, err := hex.DecodeString(sum); err != nil || len(sum) != sha256.Size*2 {
			return "", errors.Wrapf(errors.ErrInvalidPath, "invalid sha256 %q", sha256Hex)
		}
		return "sha256:" + sum, nil
	}
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	return "url:" + normalized, nil
}

// NormalizeURL lowercases scheme and host, drops default ports, fragments,
// tracking parameters and trailing slashes, and sorts the query.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: invalid url %q: %w", errors.ErrInvalidPath, rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.Wrapf(errors.ErrInvalidPath, "url %q must be absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	u.Host = host
	if port != "" {
		u.Host = host + ":" + port
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	query := u.Query()
	for key := range query {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			query.Del(key)
		}
	}
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var parts []string
	for _, key := range keys {
		values := query[key]
		sort.Strings(values)
		for _, v := range values {
			parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(v))
		}
	}
	u.RawQuery = strings.Join(parts, "&")
	return u.String(), nil
}
