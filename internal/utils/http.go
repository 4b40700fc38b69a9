package utils

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/realclientip/realclientip-go"
	"golang.org/x/exp/slices"
)

// HttpRes is the JSON envelope of every REST response.
type HttpRes struct {
	Message    string      `json:"message,omitempty" example:"status ok"`
	StatusCode int         `json:"statusCode,omitempty" example:"200"`
	Data       interface{} `json:"data,omitempty"`
}

func HttpResOk() HttpRes {
	return HttpRes{
		Message:    "OK",
		StatusCode: http.StatusOK,
	}
}

func HttpResData(statusCode int, msg string, data interface{}) (int, HttpRes) {
	return statusCode, HttpRes{
		Message:    msg,
		StatusCode: statusCode,
		Data:       data,
	}
}

func HttpResError(errMsg string, statusCode int) (int, HttpRes) {
	return statusCode, HttpRes{
		Message:    errMsg,
		StatusCode: statusCode,
	}
}

// NormalizeOrigin reduces a URL to scheme://host. Anything that does not
// parse as an absolute URL is returned unchanged.
func NormalizeOrigin(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}

// OriginAllowed reports whether origin is on the allow-list. An empty
// origin (non-browser client) and a "*" entry are always allowed.
func OriginAllowed(origin string, allowed []string) bool {
	if origin == "" || slices.Contains(allowed, "*") {
		return true
	}
	return slices.Contains(allowed, NormalizeOrigin(origin))
}

// RealIPExtractor resolves the client address behind trusted proxies.
type RealIPExtractor struct {
	strategy realclientip.RightmostTrustedRangeStrategy
}

func NewRealIPExtractor(trustedRanges []string) (*RealIPExtractor, error) {
	ipNets, err := realclientip.AddressesAndRangesToIPNets(trustedRanges...)
	if err != nil {
		return nil, err
	}

	strategy, err := realclientip.NewRightmostTrustedRangeStrategy("X-Forwarded-For", ipNets)
	if err != nil {
		return nil, err
	}

	return &RealIPExtractor{strategy: strategy}, nil
}

var remoteAddrStrategy = realclientip.RemoteAddrStrategy{}

// Extract appends the peer address to X-Forwarded-For and returns the
// rightmost address outside the trusted ranges, or the peer address.
func (e *RealIPExtractor) Extract(request *http.Request) string {
	remoteAddr := remoteAddrStrategy.ClientIP(nil, request.RemoteAddr)
	forwarded := request.Header.Get("X-Forwarded-For")
	if remoteAddr == "" || forwarded == "" {
		return remoteAddr
	}

	headers := request.Header.Clone()
	headers.Set("X-Forwarded-For", strings.Join([]string{forwarded, remoteAddr}, ", "))

	// the strategy ignores its second parameter
	if ip := e.strategy.ClientIP(headers, ""); ip != "" {
		return ip
	}
	return remoteAddr
}
