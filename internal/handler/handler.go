// Package handler 提供HTTP请求处理器
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/paiban/staffplan/pkg/engine"
	apperrors "github.com/paiban/staffplan/pkg/errors"
	"github.com/paiban/staffplan/pkg/logger"
	"github.com/paiban/staffplan/pkg/model"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 4 << 20

// Optimizer 处理器依赖的引擎能力
type Optimizer interface {
	Run(ctx context.Context, req engine.Request) (*engine.Response, error)
	Apply(ctx context.Context, scope model.Scope, changes []model.Change) (*engine.ApplyResult, error)
	Forecast(ctx context.Context, scope model.Scope) (*engine.ForecastResult, error)
	Report(ctx context.Context, scope model.Scope) (*engine.Report, error)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode 解析并校验请求体
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) *apperrors.AppError {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInvalidInput, "解析请求失败")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			ve := &apperrors.ValidationErrors{}
			for _, fe := range verrs {
				ve.Add(fe.Field(), fe.Tag())
			}
			return ve.ToAppError()
		}
		return apperrors.Wrap(err, apperrors.CodeInvalidInput, "校验请求失败")
	}
	return nil
}

// respondJSON 返回JSON响应
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError 返回错误响应，非 AppError 视为内部错误
func respondError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Wrap(err, apperrors.CodeInternal, "内部错误")
	}
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		logger.WithError(err).Str("code", string(appErr.Code)).Msg("请求处理失败")
	}
	respondJSON(w, appErr.HTTPStatus, map[string]interface{}{
		"error":   true,
		"code":    appErr.Code,
		"message": appErr.Message,
		"details": appErr.Details,
		"fields":  appErr.Fields,
	})
}

// requirePost 非 POST 请求返回 405
func requirePost(w http.ResponseWriter, r *http.Request) bool {
	return requireMethod(w, r, http.MethodPost)
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	respondJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
		"error":   true,
		"code":    apperrors.CodeInvalidInput,
		"message": "仅支持" + method + "方法",
	})
	return false
}
