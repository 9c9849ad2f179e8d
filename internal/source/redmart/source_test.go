package redmart

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/suite"

	"catalog_sync/internal/domain"
	"catalog_sync/internal/source/lazada"
)

type SourceTestSuite struct {
	suite.Suite
	server *httptest.Server
	total  int
	body   string
	source *Source
}

func TestSourceTestSuite(t *testing.T) {
	suite.Run(t, new(SourceTestSuite))
}

func (s *SourceTestSuite) SetupTest() {
	s.total = 3
	s.body = ""
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.body != "" {
			w.Write([]byte(s.body))
			return
		}
		q := r.URL.Query()
		s.Equal("/rss/products/get", r.URL.Path)
		s.Equal("store-9", q.Get("storeId"))
		s.NotEmpty(q.Get("sign"))
		page, _ := strconv.Atoi(q.Get("page"))
		size, _ := strconv.Atoi(q.Get("pageSize"))

		data := ""
		for i := (page - 1) * size; i < page*size && i < s.total; i++ {
			if data != "" {
				data += ","
			}
			data += fmt.Sprintf(`{"rpc":"RPC-%d","title":"product %d"}`, i, i)
		}
		fmt.Fprintf(w, `{"code":"0","result":{"total":%d,"data":[%s]}}`, s.total, data)
	}))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	client := lazada.NewClient(lazada.ClientConfig{AppKey: "rm", AppSecret: "secret", APIURL: s.server.URL}, logger)
	s.source = New(client, "store-9", 2, logger)
}

func (s *SourceTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *SourceTestSuite) TestFetchPage_StartsAtPageOne() {
	page, err := s.source.FetchPage(context.Background(), "t", "")

	s.Require().NoError(err)
	s.Len(page.Records, 2)
	s.Equal("2", page.NextCursor)
	s.False(page.Done)
	s.Equal(domain.PlatformRedmart, page.Records[0].Platform)
	s.JSONEq(`{"rpc":"RPC-0","title":"product 0"}`, string(page.Records[0].Payload))
}

func (s *SourceTestSuite) TestFetchPage_LastPage() {
	page, err := s.source.FetchPage(context.Background(), "t", "2")

	s.Require().NoError(err)
	s.Len(page.Records, 1)
	s.True(page.Done)
}

func (s *SourceTestSuite) TestFetchPage_RejectsZeroPage() {
	_, err := s.source.FetchPage(context.Background(), "t", "0")

	s.Require().Error(err)
	kind, _ := domain.FetchErrorKindOf(err)
	s.Equal(domain.FetchFatal, kind)
}

func (s *SourceTestSuite) TestFetchPage_GatewayThrottle() {
	s.body = `{"code":"AppCallLimit","message":"The ban will last 2 seconds"}`

	_, err := s.source.FetchPage(context.Background(), "t", "")

	s.Require().Error(err)
	kind, _ := domain.FetchErrorKindOf(err)
	s.Equal(domain.FetchRateLimited, kind)
}

func (s *SourceTestSuite) TestFetchPage_SingleObjectData() {
	s.body = `{"code":"0","result":{"total":1,"data":{"rpc":"RPC-only","title":"lone product"}}}`

	page, err := s.source.FetchPage(context.Background(), "t", "")

	s.Require().NoError(err)
	s.Require().Len(page.Records, 1)
	s.JSONEq(`{"rpc":"RPC-only","title":"lone product"}`, string(page.Records[0].Payload))
	s.True(page.Done)
}

func (s *SourceTestSuite) TestFetchPage_NullData() {
	s.body = `{"code":"0","result":{"total":0,"data":null}}`

	page, err := s.source.FetchPage(context.Background(), "t", "")

	s.Require().NoError(err)
	s.Empty(page.Records)
	s.True(page.Done)
}
