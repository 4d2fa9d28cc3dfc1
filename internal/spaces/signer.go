package spaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/bakkerme/agentpipe/internal/config"
)

const hostSuffix = ".digitaloceanspaces.com"

// Signer presigns GET access to private Spaces objects. Presign clients are
// built per region on first need and reused; presigning itself is a local
// signature computation, no network round trip.
type Signer struct {
	creds         aws.CredentialsProvider
	defaultRegion string
	expiry        time.Duration

	mu      sync.Mutex
	presign map[string]*s3.PresignClient
}

func NewSigner(cfg config.SpacesEnvConfig) (*Signer, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("spaces: access key and secret key are required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "nyc3"
	}
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &Signer{
		creds:         credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		defaultRegion: region,
		expiry:        expiry,
		presign:       map[string]*s3.PresignClient{},
	}, nil
}

// Matches reports whether the URL addresses an object this signer can presign.
func (s *Signer) Matches(rawURL string) bool {
	_, err := parseObjectURL(rawURL)
	return err == nil
}

// SignURL presigns a GET for the object behind the URL. Bucket, key and
// region are resolved from the URL's host and path.
func (s *Signer) SignURL(ctx context.Context, rawURL string) (string, error) {
	loc, err := parseObjectURL(rawURL)
	if err != nil {
		return "", err
	}
	region := loc.Region
	if region == "" {
		region = s.defaultRegion
	}

	request, err := s.presignClient(region).PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return "", fmt.Errorf("spaces: presign %s/%s: %w", loc.Bucket, loc.Key, err)
	}
	return request.URL, nil
}

func (s *Signer) presignClient(region string) *s3.PresignClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if client, ok := s.presign[region]; ok {
		return client
	}
	client := s3.NewPresignClient(s3.New(s3.Options{
		// Spaces validates SigV4 against us-east-1 regardless of datacenter;
		// the datacenter lives in the endpoint host.
		Region:       "us-east-1",
		BaseEndpoint: aws.String(fmt.Sprintf("https://%s%s", region, hostSuffix)),
		Credentials:  s.creds,
	}))
	s.presign[region] = client
	return client
}

// IsSigned reports whether the URL already carries signature query
// parameters, either SigV4 or the legacy v2 form.
func IsSigned(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	q := u.Query()
	if q.Get("X-Amz-Signature") != "" || q.Get("X-Amz-Credential") != "" {
		return true
	}
	return q.Get("Signature") != "" && q.Get("AWSAccessKeyId") != ""
}

type objectLocation struct {
	Region string
	Bucket string
	Key    string
}

// parseObjectURL resolves bucket, key and region from a Spaces object URL.
// Both addressing forms are understood:
//
//	https://{bucket}.{region}.digitaloceanspaces.com/{key}
//	https://{region}.digitaloceanspaces.com/{bucket}/{key}
//
// CDN hosts ({bucket}.{region}.cdn.digitaloceanspaces.com) resolve to the
// origin bucket.
func parseObjectURL(rawURL string) (objectLocation, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return objectLocation{}, fmt.Errorf("spaces: parse url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if !strings.HasSuffix(host, hostSuffix) {
		return objectLocation{}, fmt.Errorf("spaces: %q is not a spaces host", host)
	}

	labels := strings.Split(strings.TrimSuffix(host, hostSuffix), ".")
	if len(labels) > 1 && labels[len(labels)-1] == "cdn" {
		labels = labels[:len(labels)-1]
	}

	path := strings.TrimPrefix(u.Path, "/")
	switch {
	case len(labels) == 1 && labels[0] != "":
		bucket, key, ok := strings.Cut(path, "/")
		if !ok || bucket == "" || key == "" {
			return objectLocation{}, fmt.Errorf("spaces: no bucket/key in path %q", u.Path)
		}
		return objectLocation{Region: labels[0], Bucket: bucket, Key: key}, nil
	case len(labels) >= 2 && labels[0] != "":
		if path == "" {
			return objectLocation{}, fmt.Errorf("spaces: empty object key in %q", rawURL)
		}
		return objectLocation{
			Region: labels[len(labels)-1],
			Bucket: strings.Join(labels[:len(labels)-1], "."),
			Key:    path,
		}, nil
	default:
		return objectLocation{}, fmt.Errorf("spaces: cannot resolve bucket from host %q", host)
	}
}
