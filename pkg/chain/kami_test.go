package chain

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type HeaderSourceTestSuite struct {
	suite.Suite
	server *httptest.Server
	block  atomic.Int64
	down   atomic.Bool
	source *KamiHeaderSource
}

func (s *HeaderSourceTestSuite) SetupTest() {
	s.block.Store(100)
	s.down.Store(false)
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/chain/latest-block":
			fmt.Fprintf(w, `{"statusCode":200,"success":true,"data":{"parentHash":"0x0","blockNumber":%d},"error":null}`, s.block.Load())
		case strings.HasPrefix(r.URL.Path, "/chain/block-hash/"):
			height := strings.TrimPrefix(r.URL.Path, "/chain/block-hash/")
			fmt.Fprintf(w, `{"statusCode":200,"success":true,"data":{"blockNumber":%s,"hash":"0xhash%s"},"error":null}`, height, height)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	s.source = NewKamiHeaderSourceWithURL(s.server.URL,
		WithPollInterval(10*time.Millisecond),
		WithRetryMax(0),
	)
}

func (s *HeaderSourceTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *HeaderSourceTestSuite) TestBlockHash() {
	hash, err := s.source.BlockHash(context.Background(), 42)
	s.Require().NoError(err)
	s.Equal("0xhash42", hash)
}

func (s *HeaderSourceTestSuite) TestSubscribeEmitsAdvancingHeads() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := s.source.Subscribe(ctx)
	s.Require().NoError(err)

	first := <-sub.Headers()
	s.Equal(100, first.Number)

	s.block.Store(103)
	select {
	case next := <-sub.Headers():
		s.Equal(103, next.Number)
	case <-time.After(2 * time.Second):
		s.Fail("no header after head advanced")
	}

	cancel()
	s.NoError(sub.Err())
}

func (s *HeaderSourceTestSuite) TestSubscriptionEndsWhenSidecarDisappears() {
	sub, err := s.source.Subscribe(context.Background())
	s.Require().NoError(err)
	<-sub.Headers()

	s.down.Store(true)
	for range sub.Headers() {
	}
	s.Error(sub.Err())
}

func (s *HeaderSourceTestSuite) TestSubscribeFailsWhenUnavailable() {
	s.down.Store(true)
	_, err := s.source.Subscribe(context.Background())
	s.Error(err)
}

func TestHeaderSourceTestSuite(t *testing.T) {
	suite.Run(t, new(HeaderSourceTestSuite))
}
