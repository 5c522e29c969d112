// Package errors はプロジェクト全体のエラーハンドリングと警告システムを提供します。
// トラッキングアダプタとシンクが返すエラーを型付きで表現し、
// zerologによる構造化ログ出力とcockroachdb/errorsによるスタックトレースを付与します。
package errors

import (
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	グローバル警告ハンドリング
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		// デフォルトのハンドラは標準エラー出力にログを出す
		log.Printf("scitrack-Warning: %v\n", w)
	}
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// SetWarningHandler はライブラリ全体の警告ハンドラを設定します。
// NonFiniteWarningなどのカスタム警告の処理方法を制御できます。
//
// 例:
//
//	errors.SetWarningHandler(func(w error) {
//	    // 警告を無視する
//	})
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc はzerolog警告関数を設定します（循環importを避けるため）。
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn は警告を発生させます。
// zerologが設定されている場合は構造化ログとして出力し、そうでなければ従来のハンドラを使用します。
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}

	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	警告型
//
// ===========================================================================

// NonFiniteWarning はNaNやInfのメトリクス値がそのままシンクへ転送された場合の警告です。
type NonFiniteWarning struct {
	Path  string
	Step  int64
	Value float64
}

func (w *NonFiniteWarning) Error() string {
	return fmt.Sprintf("non-finite value %v forwarded for '%s' at step %d", w.Value, w.Path, w.Step)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *NonFiniteWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("path", w.Path).
		Int64("step", w.Step).
		Float64("value", w.Value).
		Str("type", "NonFiniteWarning")
}

// NewNonFiniteWarning は新しいNonFiniteWarningを作成します。
func NewNonFiniteWarning(path string, step int64, value float64) *NonFiniteWarning {
	return &NonFiniteWarning{Path: path, Step: step, Value: value}
}

// ===========================================================================
//
//	構造化されたエラー型
//
// ===========================================================================

// SinkUnavailableError はシンクが解放済み、または一度も開かれていない場合のエラーです。
type SinkUnavailableError struct {
	Op     string
	Reason string
}

func (e *SinkUnavailableError) Error() string {
	return fmt.Sprintf("scitrack: %s: sink unavailable: %s", e.Op, e.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *SinkUnavailableError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("reason", e.Reason).
		Str("type", "SinkUnavailableError")
}

// NewSinkUnavailableError は新しいSinkUnavailableErrorを作成し、スタックトレースを付与します。
func NewSinkUnavailableError(op, reason string) error {
	return errors.WithStack(&SinkUnavailableError{Op: op, Reason: reason})
}

// SerializationError は値が float / int / string / bool / bytes のいずれにも
// 変換できない場合のエラーです。
type SerializationError struct {
	Path   string
	Reason string
	Value  interface{}
	Err    error
}

func (e *SerializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scitrack: cannot serialize '%s': %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("scitrack: cannot serialize '%s': %s (got: %T)", e.Path, e.Reason, e.Value)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *SerializationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("path", e.Path).
		Str("reason", e.Reason).
		Str("value_type", fmt.Sprintf("%T", e.Value)).
		Str("type", "SerializationError")
}

// NewSerializationError は新しいSerializationErrorを作成し、スタックトレースを付与します。
func NewSerializationError(path, reason string, value interface{}) error {
	return errors.WithStack(&SerializationError{Path: path, Reason: reason, Value: value})
}

// WrapSerializationError は原因となるエラーを保持したSerializationErrorを作成します。
func WrapSerializationError(path, reason string, cause error) error {
	return errors.WithStack(&SerializationError{Path: path, Reason: reason, Err: cause})
}

// TransportError は下流のシンク呼び出しが失敗した場合のエラーです。
// リトライはシンク側クライアントの責務であり、このエラーはそのまま呼び出し元へ返されます。
type TransportError struct {
	Op      string
	Sink    string
	Records int
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("scitrack: %s: sink %s failed after %d records: %v", e.Op, e.Sink, e.Records, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *TransportError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("sink", e.Sink).
		Int("records", e.Records).
		Str("type", "TransportError")
	if e.Err != nil {
		event.Str("cause", e.Err.Error())
	}
}

// NewTransportError は新しいTransportErrorを作成し、スタックトレースを付与します。
func NewTransportError(op, sink string, records int, err error) error {
	return errors.WithStack(&TransportError{Op: op, Sink: sink, Records: records, Err: err})
}

// ValidationError は入力パラメータの検証に失敗した場合のエラーです。
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scitrack: validation failed for parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError は新しいValidationErrorを作成し、スタックトレースを付与します。
func NewValidationError(param, reason string, value interface{}) error {
	return errors.WithStack(&ValidationError{ParamName: param, Reason: reason, Value: value})
}

// ===========================================================================
//
//	cockroachdb/errors ラッパー関数
//
// ===========================================================================

// Is はエラーが特定のターゲットエラーかどうかを判定します。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As はエラーが特定の型にキャスト可能かどうかを判定します。
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap は既存のエラーをメッセージ付きでラップします。
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf は既存のエラーをフォーマット文字列でラップします。
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New は新しいエラーを作成します。
func New(message string) error {
	return errors.New(message)
}

// Newf は新しいフォーマット済みエラーを作成します。
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack はエラーにスタックトレースを付与します。
func WithStack(err error) error {
	return errors.WithStack(err)
}

// Join は複数のエラーを一つにまとめます。nilは無視されます。
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// ===========================================================================
//
//	判定ヘルパー
//
// ===========================================================================

// IsSinkUnavailable はエラーチェーンにSinkUnavailableErrorが含まれるかを返します。
func IsSinkUnavailable(err error) bool {
	var target *SinkUnavailableError
	return errors.As(err, &target)
}

// IsSerialization はエラーチェーンにSerializationErrorが含まれるかを返します。
func IsSerialization(err error) bool {
	var target *SerializationError
	return errors.As(err, &target)
}

// IsTransport はエラーチェーンにTransportErrorが含まれるかを返します。
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// ===========================================================================
//
//	共通エラー変数
//
// ===========================================================================

var (
	// ErrNotImplemented は機能が未実装の場合のエラーです。
	ErrNotImplemented = New("not implemented")

	// ErrEmptyName は空のメトリクス名・パラメータ名・アーティファクト名が渡された場合のエラーです。
	ErrEmptyName = New("empty name")
)
