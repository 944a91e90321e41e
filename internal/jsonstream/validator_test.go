package jsonstream_test

import (
	"encoding/json"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/apirelay/gateway/internal/jsonstream"
)

var _ = Describe("Validator", func() {
	var v *jsonstream.Validator

	cfg := jsonstream.Config{
		MaxChunkSize:   1024,
		MaxTotalSize:   4096,
		MaxDepth:       5,
		MaxArrayLength: 4,
	}

	BeforeEach(func() {
		v = jsonstream.NewValidator(cfg)
	})

	feedAll := func(doc string, splitAt int) jsonstream.Result {
		res := v.ValidateChunk([]byte(doc[:splitAt]))
		if res.Err != nil || res.IsComplete {
			return res
		}
		return v.ValidateChunk([]byte(doc[splitAt:]))
	}

	Describe("single-chunk documents", func() {
		It("should complete a small object in one chunk", func() {
			res := v.ValidateChunk([]byte(`{"a":1}`))
			Expect(res.Valid).To(BeTrue())
			Expect(res.IsComplete).To(BeTrue())
			Expect(res.NeedsMoreData).To(BeFalse())
			Expect(v.BytesProcessed()).To(Equal(7))
		})

		It("should complete a top-level scalar", func() {
			res := v.ValidateChunk([]byte(`42`))
			Expect(res.IsComplete).To(BeTrue())
		})

		It("should report more data needed for a partial document", func() {
			res := v.ValidateChunk([]byte(`{"a":`))
			Expect(res.Valid).To(BeTrue())
			Expect(res.IsComplete).To(BeFalse())
			Expect(res.NeedsMoreData).To(BeTrue())
		})
	})

	Describe("chunk boundaries", func() {
		doc := `{"a":[1,2,3]}`

		It("should handle the documented mid-array split", func() {
			first := v.ValidateChunk([]byte(`{"a":[1,`))
			Expect(first.NeedsMoreData).To(BeTrue())
			Expect(first.IsComplete).To(BeFalse())

			second := v.ValidateChunk([]byte(`2,3]}`))
			Expect(second.IsComplete).To(BeTrue())

			parsed, err := jsonstream.Parse(v.Bytes())
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed.Kind).To(Equal(jsonstream.KindObject))
			Expect(parsed.Object["a"].Array).To(HaveLen(3))
		})

		It("should reach completion at every possible split point", func() {
			for splitAt := 1; splitAt < len(doc); splitAt++ {
				val := jsonstream.NewValidator(cfg)
				res := val.ValidateChunk([]byte(doc[:splitAt]))
				Expect(res.Err).NotTo(HaveOccurred())
				Expect(res.IsComplete).To(BeFalse(), "split at %d completed early", splitAt)

				res = val.ValidateChunk([]byte(doc[splitAt:]))
				Expect(res.Err).NotTo(HaveOccurred())
				Expect(res.IsComplete).To(BeTrue(), "split at %d never completed", splitAt)
				Expect(val.BytesProcessed()).To(Equal(len(doc)))
			}
		})

		It("should tolerate a split inside string content", func() {
			res := feedAll(`{"text":"hello } world ] {"}`, 12)
			Expect(res.IsComplete).To(BeTrue())
		})

		It("should tolerate a split between a backslash and its escaped quote", func() {
			doc := `{"a":"x\"y"}`
			splitAt := strings.IndexByte(doc, '\\') + 1

			first := v.ValidateChunk([]byte(doc[:splitAt]))
			Expect(first.NeedsMoreData).To(BeTrue())

			second := v.ValidateChunk([]byte(doc[splitAt:]))
			Expect(second.IsComplete).To(BeTrue())
		})
	})

	Describe("string content", func() {
		It("should ignore structural characters inside strings", func() {
			res := v.ValidateChunk([]byte(`{"weird":"}}}]]]{{{[[[,,,"}`))
			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.IsComplete).To(BeTrue())
		})

		It("should not complete while a string is open", func() {
			res := v.ValidateChunk([]byte(`"unterminated`))
			Expect(res.IsComplete).To(BeFalse())
			Expect(res.NeedsMoreData).To(BeTrue())
		})
	})

	Describe("depth limit", func() {
		It("should accept depth exactly at the maximum", func() {
			res := v.ValidateChunk([]byte(`[[[[[1]]]]]`)) // depth 5
			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.IsComplete).To(BeTrue())
		})

		It("should reject one level past the maximum with a depth error", func() {
			res := v.ValidateChunk([]byte(`[[[[[[1]]]]]]`)) // depth 6
			var structErr *jsonstream.StructureError
			Expect(errors.As(res.Err, &structErr)).To(BeTrue())
			Expect(structErr.Kind).To(Equal(jsonstream.LimitDepth))
			Expect(structErr.Limit).To(Equal(5))
			Expect(structErr.Actual).To(Equal(6))
		})
	})

	Describe("array length limit", func() {
		It("should accept an array exactly at the maximum length", func() {
			res := v.ValidateChunk([]byte(`[1,2,3,4]`))
			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.IsComplete).To(BeTrue())
		})

		It("should reject one element past the maximum with an array error", func() {
			res := v.ValidateChunk([]byte(`[1,2,3,4,5]`))
			var structErr *jsonstream.StructureError
			Expect(errors.As(res.Err, &structErr)).To(BeTrue())
			Expect(structErr.Kind).To(Equal(jsonstream.LimitArray))
			Expect(structErr.Limit).To(Equal(4))
			Expect(structErr.Actual).To(Equal(5))
		})

		It("should track nested arrays independently", func() {
			res := v.ValidateChunk([]byte(`[[1,2,3,4],[1,2]]`))
			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.IsComplete).To(BeTrue())
		})
	})

	Describe("size limits", func() {
		It("should reject an oversized chunk", func() {
			res := v.ValidateChunk([]byte(strings.Repeat("x", 2048)))
			var structErr *jsonstream.StructureError
			Expect(errors.As(res.Err, &structErr)).To(BeTrue())
			Expect(structErr.Kind).To(Equal(jsonstream.LimitSize))
		})

		It("should reject cumulative input past the total limit before scanning", func() {
			chunk := []byte(`{"pad":"` + strings.Repeat("x", 1000) + `",`)
			for i := 0; i < 5; i++ {
				res := v.ValidateChunk(chunk)
				if res.Err != nil {
					var structErr *jsonstream.StructureError
					Expect(errors.As(res.Err, &structErr)).To(BeTrue())
					Expect(structErr.Kind).To(Equal(jsonstream.LimitSize))
					Expect(structErr.Limit).To(Equal(4096))
					return
				}
			}
			Fail("total size limit never triggered")
		})
	})

	Describe("unmatched delimiters", func() {
		It("should reject a stray closer at the top level immediately", func() {
			res := v.ValidateChunk([]byte(`]`))
			Expect(res.Valid).To(BeFalse())

			var malformed *jsonstream.MalformedPayloadError
			Expect(errors.As(res.Err, &malformed)).To(BeTrue())
		})

		It("should reject an extra closer after a balanced document", func() {
			res := v.ValidateChunk([]byte(`{"a":1}}`))
			Expect(res.Valid).To(BeFalse())

			var malformed *jsonstream.MalformedPayloadError
			Expect(errors.As(res.Err, &malformed)).To(BeTrue())
		})

		It("should ignore closers inside strings", func() {
			res := v.ValidateChunk([]byte(`"}]"`))
			Expect(res.Valid).To(BeTrue())
			Expect(res.IsComplete).To(BeTrue())
		})
	})

	Describe("failure is terminal", func() {
		It("should keep returning the original error on further chunks", func() {
			first := v.ValidateChunk([]byte(`[[[[[[`))
			Expect(first.Err).To(HaveOccurred())

			second := v.ValidateChunk([]byte(`]]]]]]`))
			Expect(second.Err).To(Equal(first.Err))
			Expect(second.Valid).To(BeFalse())
		})
	})

	Describe("Reset", func() {
		It("should behave like a freshly constructed instance", func() {
			v.ValidateChunk([]byte(`[[[[[[`))
			v.Reset()

			Expect(v.BytesProcessed()).To(BeZero())
			Expect(v.Bytes()).To(BeEmpty())
			Expect(v.Complete()).To(BeFalse())

			res := v.ValidateChunk([]byte(`{"fresh":true}`))
			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.IsComplete).To(BeTrue())
		})
	})

	DescribeTable("parse equivalence after chunked delivery",
		func(doc string) {
			val := jsonstream.NewValidator(cfg)
			for i := 0; i < len(doc); i += 3 {
				end := i + 3
				if end > len(doc) {
					end = len(doc)
				}
				res := val.ValidateChunk([]byte(doc[i:end]))
				Expect(res.Err).NotTo(HaveOccurred())
			}
			Expect(val.Complete()).To(BeTrue())
			Expect(val.BytesProcessed()).To(Equal(len(doc)))

			parsed, err := jsonstream.Parse(val.Bytes())
			Expect(err).NotTo(HaveOccurred())

			var want any
			Expect(json.Unmarshal([]byte(doc), &want)).To(Succeed())
			Expect(roundTrip(parsed)).To(Equal(want))
		},
		Entry("nested object", `{"a":{"b":[1,2],"c":"x,y"}}`),
		Entry("array of objects", `[{"n":1},{"n":2}]`),
		Entry("string with escapes", `{"s":"a\"b\\c"}`),
		Entry("null and bools", `{"x":null,"y":[true,false]}`),
	)
})

// roundTrip converts a tagged-union Value back to the shape
// encoding/json produces for interface{} decoding.
func roundTrip(v jsonstream.Value) any {
	switch v.Kind {
	case jsonstream.KindNull:
		return nil
	case jsonstream.KindBool:
		return v.Bool
	case jsonstream.KindNumber:
		f, _ := v.Number.Float64()
		return f
	case jsonstream.KindString:
		return v.Str
	case jsonstream.KindArray:
		out := make([]any, len(v.Array))
		for i, el := range v.Array {
			out[i] = roundTrip(el)
		}
		return out
	default:
		out := make(map[string]any, len(v.Object))
		for k, el := range v.Object {
			out[k] = roundTrip(el)
		}
		return out
	}
}
