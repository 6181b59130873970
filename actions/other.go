package actions

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gitlab.com/paramountdax-exchange/referral_api/httputils"
	"gitlab.com/paramountdax-exchange/referral_api/logger"
	"gitlab.com/paramountdax-exchange/referral_api/model"
)

// Ping godoc
// swagger:route GET /ping misc ping
// Ping
//
// Ping the server
//
//	Produces:
//	- application/json
//
//	Responses:
//	  200: StringResp
func Ping(c *gin.Context) {
	c.JSON(OK, "pong")
}

func abortWithError(c *gin.Context, code int, message string) {
	l := getlog(c)
	l.Debug().Int("resp_code", code).Msg(message)
	c.AbortWithStatusJSON(code, httputils.RequestError{Error: message})
}

var referralErrorCodes = []struct {
	err  error
	code int
}{
	{model.ErrReferralNotFound, NotFound},
	{model.ErrReferralAlreadyPositioned, Conflict},
	{model.ErrReferralDuplicatePosition, Conflict},
	{model.ErrReferralConcurrencyConflict, Conflict},
	{model.ErrReferralSelfReference, ValidationFailed},
	{model.ErrReferralCyclicReference, ValidationFailed},
	{model.ErrReferralDepthExceeded, ValidationFailed},
	{model.ErrReferralInvalidState, ValidationFailed},
	{model.ErrReferralInvalidArgument, BadRequest},
	{model.ErrReferralMutationsDisabled, ServiceUnavailable},
}

// referralErrorStatus maps an engine error to the response status and its public code
func referralErrorStatus(err error) (int, string) {
	for _, e := range referralErrorCodes {
		if errors.Is(err, e.err) {
			return e.code, e.err.Error()
		}
	}
	return ServerError, ""
}

// abortWithReferralError hides the details of server errors and returns the cause of client errors
func abortWithReferralError(c *gin.Context, err error, message string) {
	code, errCode := referralErrorStatus(err)
	l := getlog(c)
	if !model.IsReferralClientError(err) {
		l.Error().Err(err).Int("resp_code", code).Msg(message)
		c.AbortWithStatusJSON(code, httputils.RequestError{Error: message})
		return
	}
	l.Debug().Err(err).Int("resp_code", code).Msg(message)
	c.AbortWithStatusJSON(code, httputils.RequestError{Error: err.Error(), Code: errCode})
}

func getParamAsUint64(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func getQueryAsInt(c *gin.Context, name string, def int) int {
	val := c.Query(name)
	if val == "" {
		return def
	}
	param, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return param
}

func getlog(c *gin.Context) zerolog.Logger {
	return logger.GetLogger(c)
}
