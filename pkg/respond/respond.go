// Package respond はAPI応答の共通エンベロープを提供する。
//
// 成功応答はステータスマーカーと任意のペイロード、エラー応答は
// ステータスマーカーと利用者向けメッセージを持つ。診断用の詳細は
// 呼び出し側が非本番環境でのみ付与する。ここは純粋なビルダーであり
// 環境変数などの外部状態を一切読まない。
package respond

// statusSuccess / statusError はエンベロープのステータスマーカー。
const (
	statusSuccess = "success"
	statusError   = "error"
)

// Envelope はAPI応答の共通形式。
type Envelope struct {
	// Status は "success" または "error"。
	Status string `json:"status"`
	// Message は人間が読むためのメッセージ。
	Message string `json:"message"`
	// Data は成功時の任意ペイロード。
	Data any `json:"data,omitempty"`
	// Detail はエラー時の診断情報。本番環境では常に空。
	Detail string `json:"detail,omitempty"`
}

// Success は成功エンベロープを生成する。dataがnilの場合は省略される。
func Success(message string, data any) Envelope {
	return Envelope{Status: statusSuccess, Message: message, Data: data}
}

// Error はエラーエンベロープを生成する。
func Error(message string) Envelope {
	return Envelope{Status: statusError, Message: message}
}

// ErrorWithDetail は診断詳細付きのエラーエンベロープを生成する。
// 詳細には内部エラーの内容が含まれるため、本番環境では呼び出し側が
// Errorを使って詳細を抑制すること。
func ErrorWithDetail(message, detail string) Envelope {
	return Envelope{Status: statusError, Message: message, Detail: detail}
}
