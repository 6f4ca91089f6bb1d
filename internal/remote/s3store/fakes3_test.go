package s3store

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
)

const fakeBucket = "dropsync"

type fakeObject struct {
	data     []byte
	etag     string
	modified time.Time
}

// fakeS3 answers the path-style object and ListObjectsV2 calls the store makes.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]*fakeObject
}

type listBucketResult struct {
	XMLName        xml.Name       `xml:"ListBucketResult"`
	Name           string         `xml:"Name"`
	Prefix         string         `xml:"Prefix"`
	Delimiter      string         `xml:"Delimiter,omitempty"`
	MaxKeys        int            `xml:"MaxKeys"`
	KeyCount       int            `xml:"KeyCount"`
	IsTruncated    bool           `xml:"IsTruncated"`
	Contents       []listObject   `xml:"Contents"`
	CommonPrefixes []commonPrefix `xml:"CommonPrefixes"`
}

type listObject struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int    `xml:"Size"`
}

type commonPrefix struct {
	Prefix string `xml:"Prefix"`
}

type s3ErrorBody struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

func newFakeS3Store(t *testing.T, prefix string) (*Store, *fakeS3) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := &fakeS3{objects: make(map[string]*fakeObject)}
	r := gin.New()
	r.NoRoute(fake.handle)
	srv := httptest.NewTLSServer(r)
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:                     "us-east-1",
		BaseEndpoint:               aws.String(srv.URL),
		UsePathStyle:               true,
		HTTPClient:                 srv.Client(),
		Credentials:                credentials.NewStaticCredentialsProvider("key", "secret", ""),
		RetryMaxAttempts:           1,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
	return NewWithClient(client, &Config{Bucket: fakeBucket, Prefix: prefix, SpoolDir: t.TempDir()}), fake
}

func (f *fakeS3) put(key string, data []byte) *fakeObject {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := md5.Sum(data)
	obj := &fakeObject{
		data:     data,
		etag:     `"` + hex.EncodeToString(sum[:]) + `"`,
		modified: time.Now().UTC().Truncate(time.Second),
	}
	f.objects[key] = obj
	return obj
}

func (f *fakeS3) get(key string) (*fakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	return obj, ok
}

func (f *fakeS3) handle(c *gin.Context) {
	bucket, key, _ := strings.Cut(strings.TrimPrefix(c.Request.URL.Path, "/"), "/")
	if bucket != fakeBucket {
		writeS3Error(c, http.StatusNotFound, "NoSuchBucket", "The specified bucket does not exist")
		return
	}

	switch c.Request.Method {
	case http.MethodGet:
		if key == "" && c.Query("list-type") == "2" {
			f.list(c)
			return
		}
		f.getObject(c, key, true)
	case http.MethodHead:
		f.getObject(c, key, false)
	case http.MethodPut:
		f.putObject(c, key)
	default:
		writeS3Error(c, http.StatusMethodNotAllowed, "MethodNotAllowed", c.Request.Method)
	}
}

func (f *fakeS3) list(c *gin.Context) {
	prefix := c.Query("prefix")
	delimiter := c.Query("delimiter")
	maxKeys := 1000
	if v := c.Query("max-keys"); v != "" {
		maxKeys, _ = strconv.Atoi(v)
	}

	f.mu.Lock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	res := listBucketResult{Name: fakeBucket, Prefix: prefix, Delimiter: delimiter, MaxKeys: maxKeys}
	seen := make(map[string]bool)
	for _, k := range keys {
		if res.KeyCount == maxKeys {
			break
		}
		rest := strings.TrimPrefix(k, prefix)
		if delimiter != "" {
			if i := strings.Index(rest, delimiter); i >= 0 {
				cp := prefix + rest[:i+len(delimiter)]
				if !seen[cp] {
					seen[cp] = true
					res.CommonPrefixes = append(res.CommonPrefixes, commonPrefix{Prefix: cp})
					res.KeyCount++
				}
				continue
			}
		}
		obj := f.objects[k]
		res.Contents = append(res.Contents, listObject{
			Key:          k,
			LastModified: obj.modified.Format(time.RFC3339),
			ETag:         obj.etag,
			Size:         len(obj.data),
		})
		res.KeyCount++
	}
	f.mu.Unlock()

	c.XML(http.StatusOK, res)
}

func (f *fakeS3) getObject(c *gin.Context, key string, withBody bool) {
	obj, ok := f.get(key)
	if !ok {
		if !withBody {
			c.Status(http.StatusNotFound)
			return
		}
		writeS3Error(c, http.StatusNotFound, "NoSuchKey", "The specified key does not exist.")
		return
	}

	c.Header("ETag", obj.etag)
	c.Header("Last-Modified", obj.modified.Format(http.TimeFormat))
	c.Header("Content-Length", strconv.Itoa(len(obj.data)))
	if !withBody {
		c.Status(http.StatusOK)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", obj.data)
}

func (f *fakeS3) putObject(c *gin.Context, key string) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeS3Error(c, http.StatusBadRequest, "IncompleteBody", err.Error())
		return
	}

	existing, ok := f.get(key)
	if c.GetHeader("If-None-Match") == "*" && ok {
		writeS3Error(c, http.StatusPreconditionFailed, "PreconditionFailed", "At least one of the pre-conditions you specified did not hold")
		return
	}
	if match := c.GetHeader("If-Match"); match != "" {
		if !ok {
			writeS3Error(c, http.StatusNotFound, "NoSuchKey", "The specified key does not exist.")
			return
		}
		if match != existing.etag {
			writeS3Error(c, http.StatusPreconditionFailed, "PreconditionFailed", "At least one of the pre-conditions you specified did not hold")
			return
		}
	}

	obj := f.put(key, body)
	c.Header("ETag", obj.etag)
	c.Status(http.StatusOK)
}

func writeS3Error(c *gin.Context, status int, code, msg string) {
	c.XML(status, s3ErrorBody{Code: code, Message: msg})
}
