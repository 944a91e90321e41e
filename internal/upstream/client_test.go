package upstream_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/apirelay/gateway/internal/upstream"
)

var _ = Describe("Call", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("should return status, headers, body and a measured response time", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Served-By", "test")
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"ok":true}`))
		}))
		defer server.Close()

		res, err := upstream.Call(ctx, server.Client(), upstream.Request{
			URL:    server.URL,
			Method: http.MethodGet,
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(res.StatusCode).To(Equal(http.StatusAccepted))
		Expect(res.Header.Get("X-Served-By")).To(Equal("test"))
		Expect(res.Body).To(Equal([]byte(`{"ok":true}`)))
		Expect(res.ResponseTime).To(BeNumerically(">", 0))
	})

	It("should forward the request method, headers and body", func() {
		var gotMethod, gotHeader, gotBody string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotHeader = r.Header.Get("Authorization")
			buf := make([]byte, r.ContentLength)
			r.Body.Read(buf)
			gotBody = string(buf)
		}))
		defer server.Close()

		_, err := upstream.Call(ctx, server.Client(), upstream.Request{
			URL:    server.URL,
			Method: http.MethodPost,
			Header: http.Header{"Authorization": []string{"Bearer token"}},
			Body:   []byte(`{"payload":1}`),
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(gotMethod).To(Equal(http.MethodPost))
		Expect(gotHeader).To(Equal("Bearer token"))
		Expect(gotBody).To(Equal(`{"payload":1}`))
	})

	It("should wrap transport failures as NetworkError", func() {
		_, err := upstream.Call(ctx, http.DefaultClient, upstream.Request{
			URL:    "http://127.0.0.1:1", // nothing listens here
			Method: http.MethodGet,
		})

		var netErr *upstream.NetworkError
		Expect(errors.As(err, &netErr)).To(BeTrue())
		Expect(netErr.URL).To(ContainSubstring("127.0.0.1:1"))
	})

	It("should honor the per-request timeout", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(time.Second)
		}))
		defer server.Close()

		start := time.Now()
		_, err := upstream.Call(ctx, server.Client(), upstream.Request{
			URL:     server.URL,
			Method:  http.MethodGet,
			Timeout: 50 * time.Millisecond,
		})

		var netErr *upstream.NetworkError
		Expect(errors.As(err, &netErr)).To(BeTrue())
		Expect(time.Since(start)).To(BeNumerically("<", 500*time.Millisecond))
	})
})
