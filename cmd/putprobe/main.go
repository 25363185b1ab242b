package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"putprobe/internal/archive"
	"putprobe/internal/presign"
	"putprobe/internal/probe"
	"time"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// getenv returns the value of the environment variable named by key or
// fallback if the variable is not present.
func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

// KeyPrefix is where minted object keys are placed when -key is empty.
const KeyPrefix = "putprobe"

var errMissingTarget = errors.New("no destination: pass -url, or -endpoint and -bucket with credentials in PUTPROBE_ACCESS_KEY and PUTPROBE_SECRET_KEY")

type minter struct {
	client *minio.Client
	bucket string
	key    string
}

// newMinter connects to an S3-compatible endpoint used to pre-sign the PUT.
func newMinter(endpoint string, bucket string, key string, region string, secure bool, accessKey string, secretKey string) (*minter, error) {
	if endpoint == "" || bucket == "" || accessKey == "" || secretKey == "" {
		return nil, errMissingTarget
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       secure,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %q: %w", endpoint, err)
	}

	if key == "" {
		key = presign.ObjectKey(KeyPrefix)
	}

	return &minter{client: client, bucket: bucket, key: key}, nil
}

// verifyUpload stats the uploaded object and checks its size.
func verifyUpload(ctx context.Context, out io.Writer, m *minter, size int64) error {
	info, err := m.client.StatObject(ctx, m.bucket, m.key, minio.StatObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to stat %q/%q: %w", m.bucket, m.key, err)
	}

	fmt.Fprintln(out, "[VERIFY]")
	fmt.Fprintf(out, "  Object: %s/%s\n", m.bucket, m.key)
	fmt.Fprintf(out, "  Stored size: %d bytes\n", info.Size)
	fmt.Fprintf(out, "  ETag: %s\n", info.ETag)

	if info.Size != size {
		return fmt.Errorf("stored object is %d bytes, sent %d", info.Size, size)
	}
	return nil
}

func Run(ctx context.Context) (int, error) {

	rawURL := flag.String("url", getenv("PUTPROBE_URL", ""), "pre-signed PUT URL")
	endpoint := flag.String("endpoint", getenv("PUTPROBE_ENDPOINT", ""), "S3 endpoint used to mint a URL when -url is empty")
	bucket := flag.String("bucket", getenv("PUTPROBE_BUCKET", ""), "bucket for a minted URL")
	key := flag.String("key", getenv("PUTPROBE_KEY", ""), "object key for a minted URL (random when empty)")
	region := flag.String("region", getenv("PUTPROBE_REGION", "us-east-1"), "signing region for a minted URL")
	secure := flag.Bool("secure", true, "use HTTPS for the minting endpoint")
	expires := flag.Duration("expires", presign.DefaultExpiry, "validity of a minted URL")
	timeout := flag.Duration("timeout", probe.DefaultTimeout, "round trip timeout")
	contentType := flag.String("content-type", probe.DefaultContentType, "Content-Type header of the PUT")
	entryName := flag.String("entry-name", archive.NoteName, "name of the file inside the archive")
	entryText := flag.String("entry-text", archive.NoteText, "content of the file inside the archive")
	sample := flag.Int("sample", probe.DefaultSampleSize, "number of body bytes printed")
	showSignature := flag.Bool("show-signature", false, "print the pre-signed URL without redaction")
	strict := flag.Bool("strict", false, "exit 1 unless the server accepts the upload")
	verify := flag.Bool("verify", false, "stat the object after upload (minting mode only)")
	logLevel := flag.String("log-level", "warn", "log level (debug, info, warn, error)")

	flag.Parse()

	if *timeout <= 0 {
		return 1, fmt.Errorf("-timeout must be positive, got %s", *timeout)
	}

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		return 1, fmt.Errorf("invalid log level %q: %w", *logLevel, err)
	}

	handler := log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
	})

	slog.SetDefault(slog.New(handler))

	var m *minter
	target := *rawURL
	if target == "" {
		m, err = newMinter(*endpoint, *bucket, *key, *region, *secure, getenv("PUTPROBE_ACCESS_KEY", ""), getenv("PUTPROBE_SECRET_KEY", ""))
		if err != nil {
			return 1, err
		}

		u, err := presign.Generate(ctx, m.client, m.bucket, m.key, *expires)
		if err != nil {
			return 1, err
		}
		target = u.String()

		slog.Info("Minted pre-signed URL", "bucket", m.bucket, "key", m.key, "expires", *expires, "url", presign.Redact(u))
	} else if *verify {
		slog.Warn("Ignoring -verify: it needs -endpoint credentials to stat the object")
	}

	if _, err := url.Parse(target); err != nil {
		return 1, fmt.Errorf("invalid URL: %w", err)
	}

	if *showSignature {
		slog.Warn("The signature will be printed in clear; do not share this output")
	}

	body, err := archive.Build(*entryName, *entryText)
	if err != nil {
		return 1, fmt.Errorf("failed to build archive: %w", err)
	}

	cfg := probe.NewConfig(
		probe.WithURL(target),
		probe.WithTimeout(*timeout),
		probe.WithContentType(*contentType),
		probe.WithSampleSize(*sample),
		probe.WithRedaction(!*showSignature),
		probe.WithStrictExit(*strict),
	)

	res, err := probe.NewProber(cfg, os.Stdout).Run(ctx, body)
	if err != nil {
		return 1, err
	}

	code := res.ExitCode(cfg.Strict)

	if *verify && m != nil && res.Verdict == probe.VerdictSuccess {
		if err := verifyUpload(ctx, os.Stdout, m, res.Footprint.BodySize); err != nil {
			slog.Error("Upload verification failed", "error", err)
			if cfg.Strict {
				code = 1
			}
		}
	}

	return code, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code, err := Run(ctx)
	stop()

	if err != nil {
		slog.Error("putprobe exited with error", "error", err)
		os.Exit(1)
	}
	os.Exit(code)
}
