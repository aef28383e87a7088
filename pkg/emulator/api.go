package emulator

import (
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/neo7530/systerfun/pkg/card"
	"github.com/neo7530/systerfun/pkg/log"
	"github.com/neo7530/systerfun/pkg/systerdes"
)

type CardApi struct {
	Api    *echo.Echo
	Server *Server
}

// StatusResponse describes the card as seen by GET /status.
type StatusResponse struct {
	Uptime       string `json:"uptime"`
	Formatted    bool   `json:"formatted"`
	CryptMode    byte   `json:"crypt_mode"`
	AtrIndex     byte   `json:"atr_index"`
	Validating   bool   `json:"validating"`
	MinDate      uint16 `json:"min_date"`
	MaxDate      uint16 `json:"max_date"`
	EEPROMWrites uint64 `json:"eeprom_writes"`
	Sessions     int    `json:"sessions"`
	Commands     int    `json:"commands"`
}

type ChannelsResponse struct {
	Channels string `json:"channels"`
	Response string `json:"response"`
}

type DecryptRequest struct {
	Command string `json:"command"`
	ECM     string `json:"ecm"`
}

type DecryptResponse struct {
	Command string `json:"command"`
	CW      string `json:"cw,omitempty"`
	Aux     byte   `json:"aux"`
	Date    uint16 `json:"date"`
	OK      bool   `json:"ok"`
	Reason  string `json:"reason,omitempty"`
}

func newAPI(s *Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	a := &CardApi{Api: e, Server: s}
	e.GET("/status", a.GetStatus)
	e.GET("/channels", a.GetChannels)
	e.GET("/sessions", a.GetSessions)
	e.GET("/sessions/:id", a.GetSession)
	e.GET("/sessions/:id/logs", a.GetSessionLogs)
	e.POST("/decrypt", a.PostDecrypt)
	return e
}

func (a *CardApi) status() StatusResponse {
	ks := a.Server.ks
	st := card.LoadState(ks)
	return StatusResponse{
		Uptime:       time.Since(a.Server.started).Round(time.Second).String(),
		Formatted:    ks.Formatted(),
		CryptMode:    st.CryptMode,
		AtrIndex:     st.AtrIndex,
		Validating:   st.Validating(),
		MinDate:      st.MinDate,
		MaxDate:      st.MaxDate,
		EEPROMWrites: a.Server.store.Writes(),
		Sessions:     a.Server.sessions.Len(),
		Commands:     len(card.Commands()),
	}
}

func (a *CardApi) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, a.status())
}

func (a *CardApi) GetChannels(c echo.Context) error {
	ch := a.Server.ks.Channels()
	r := a.Server.ks.ChannelResponse()
	return c.JSON(http.StatusOK, ChannelsResponse{
		Channels: hex.EncodeToString(ch[:]),
		Response: hex.EncodeToString(r[:]),
	})
}

func (a *CardApi) GetSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, a.Server.sessions.List())
}

func (a *CardApi) GetSession(c echo.Context) error {
	p, ok := a.Server.sessions.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no such session")
	}
	return c.JSON(http.StatusOK, p.Info())
}

func (a *CardApi) GetSessionLogs(c echo.Context) error {
	limit := log.DefaultLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	entries, err := log.GetSessionLogs(c.Param("id"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, entries)
}

// PostDecrypt runs a decrypt command against the card's keys and current
// persisted selectors without touching any session.
func (a *CardApi) PostDecrypt(c echo.Context) error {
	var req DecryptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cmd, err := card.ParseCommand(req.Command)
	if err != nil || !cmd.IsDecrypt() {
		return echo.NewHTTPError(http.StatusBadRequest, "not a decrypt command: "+req.Command)
	}
	raw, err := hex.DecodeString(req.ECM)
	if err != nil || len(raw) != systerdes.ECMSize {
		return echo.NewHTTPError(http.StatusBadRequest, "ecm must be 16 hex-encoded bytes")
	}
	var ecm [systerdes.ECMSize]byte
	copy(ecm[:], raw)

	out := card.Decrypt(a.Server.ks, card.LoadState(a.Server.ks), cmd, ecm, nil)
	log.Debug().Stringer("cmd", cmd).Bool("ok", out.OK).Msg("api: decrypt")
	return c.JSON(http.StatusOK, newDecryptResponse(cmd, out))
}

func newDecryptResponse(cmd card.Command, out card.Outcome) DecryptResponse {
	res := DecryptResponse{
		Command: cmd.String(),
		Aux:     out.Aux,
		Date:    out.Date,
		OK:      out.OK,
		Reason:  out.Reason,
	}
	if out.OK {
		res.CW = hex.EncodeToString(out.CW[:])
	}
	return res
}
