package offer

import (
	"errors"
	"fmt"

	"github.com/ceyewan/tripguard/xerrors"
)

var (
	// ErrOfferExpired 报价已过期或剩余时间不足以完成预订
	ErrOfferExpired = xerrors.New("offer: expired")

	// ErrOfferNotFound 供应商找不到该报价
	ErrOfferNotFound = xerrors.New("offer: not found")
)

// UserMessage 报价不可用时展示给用户的文案
const UserMessage = "This offer is no longer available. Please search again."

// UnavailableError 报价在预订入口被拒绝，调用方应引导用户重新搜索而不是重试
type UnavailableError struct {
	OfferID string
	Result  Result
	kind    error
	cause   error
}

func (e *UnavailableError) Error() string {
	detail := e.Result.Error
	if e.cause != nil {
		detail = e.cause.Error()
	}
	if detail == "" {
		return fmt.Sprintf("offer %s is no longer available", e.OfferID)
	}
	return fmt.Sprintf("offer %s is no longer available: %s", e.OfferID, detail)
}

func (e *UnavailableError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.kind, e.cause}
	}
	return []error{e.kind}
}

// Code 返回机器码 OFFER_EXPIRED 或 OFFER_NOT_FOUND
func (e *UnavailableError) Code() string {
	if errors.Is(e.kind, ErrOfferNotFound) {
		return xerrors.CodeOfferNotFound
	}
	return xerrors.CodeOfferExpired
}

// UserMessage 面向用户的提示
func (e *UnavailableError) UserMessage() string {
	return UserMessage
}

func expiredError(offerID string, result Result) *UnavailableError {
	return &UnavailableError{OfferID: offerID, Result: result, kind: ErrOfferExpired}
}

func notFoundError(offerID string, cause error) *UnavailableError {
	return &UnavailableError{
		OfferID: offerID,
		Result:  Result{NeedsRefresh: true, Error: "Offer not found"},
		kind:    ErrOfferNotFound,
		cause:   cause,
	}
}

// IsUnavailable 判断错误是否为报价不可用（过期或不存在）
func IsUnavailable(err error) bool {
	var target *UnavailableError
	return errors.As(err, &target)
}
