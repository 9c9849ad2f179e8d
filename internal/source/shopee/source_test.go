package shopee

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"catalog_sync/internal/domain"
)

type SourceTestSuite struct {
	suite.Suite
	server       *httptest.Server
	detailCalls  [][]string
	detailStatus int
	source       *Source
}

func TestSourceTestSuite(t *testing.T) {
	suite.Run(t, new(SourceTestSuite))
}

func (s *SourceTestSuite) SetupTest() {
	s.detailCalls = nil
	s.detailStatus = http.StatusOK
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch r.URL.Path {
		case itemListPath:
			s.Equal("NORMAL", q.Get("item_status"))
			if q.Get("offset") == "0" {
				w.Write([]byte(`{"error":"","response":{"item":[{"item_id":11},{"item_id":12}],"total_count":3,"has_next_page":true,"next_offset":2}}`))
				return
			}
			w.Write([]byte(`{"error":"","response":{"item":[{"item_id":13}],"total_count":3,"has_next_page":false,"next_offset":0}}`))
		case itemBaseInfoPath:
			if s.detailStatus != http.StatusOK {
				w.WriteHeader(s.detailStatus)
				return
			}
			ids := strings.Split(q.Get("item_id_list"), ",")
			s.detailCalls = append(s.detailCalls, ids)
			items := make([]string, len(ids))
			for i, id := range ids {
				items[i] = fmt.Sprintf(`{"item_id":%s,"item_name":"item %s"}`, id, id)
			}
			fmt.Fprintf(w, `{"error":"","response":{"item_list":[%s]}}`, strings.Join(items, ","))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	s.source = New(newTestClient(s.server.URL), 2, testLogger())
}

func (s *SourceTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *SourceTestSuite) TestFetchPage_ReturnsIDs() {
	page, err := s.source.FetchPage(context.Background(), "tok", "")

	s.Require().NoError(err)
	s.Equal([]string{"11", "12"}, page.IDs)
	s.Empty(page.Records)
	s.Equal("2", page.NextCursor)
	s.False(page.Done)
}

func (s *SourceTestSuite) TestFetchPage_LastPage() {
	page, err := s.source.FetchPage(context.Background(), "tok", "2")

	s.Require().NoError(err)
	s.Equal([]string{"13"}, page.IDs)
	s.True(page.Done)
}

func (s *SourceTestSuite) TestFetchDetails_Batches() {
	ids := make([]string, 120)
	for i := range ids {
		ids[i] = fmt.Sprint(i + 1)
	}

	records, err := s.source.FetchDetails(context.Background(), "tok", ids)

	s.Require().NoError(err)
	s.Len(records, 120)
	s.Require().Len(s.detailCalls, 3)
	s.Len(s.detailCalls[0], 50)
	s.Len(s.detailCalls[1], 50)
	s.Len(s.detailCalls[2], 20)
	s.Equal(domain.PlatformShopee, records[0].Platform)
	s.JSONEq(`{"item_id":1,"item_name":"item 1"}`, string(records[0].Payload))
}

func (s *SourceTestSuite) TestFetchDetails_Empty() {
	records, err := s.source.FetchDetails(context.Background(), "tok", nil)

	s.Require().NoError(err)
	s.Empty(records)
	s.Empty(s.detailCalls)
}

func (s *SourceTestSuite) TestFetchDetails_FailureFailsWholeCall() {
	s.detailStatus = http.StatusBadGateway

	_, err := s.source.FetchDetails(context.Background(), "tok", []string{"1", "2"})

	s.Require().Error(err)
	kind, _ := domain.FetchErrorKindOf(err)
	s.Equal(domain.FetchTransient, kind)
}
