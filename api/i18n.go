package api

import (
	"net/http"

	"golang.org/x/text/language"
)

type messageKey int

const (
	msgInvalidCredentials messageKey = iota
	msgTooManyAttempts
	msgUnauthenticated
	msgForbidden
	msgInternal
)

// Client-facing errors are coarse, one message per class, so
// a response never reveals which check failed.
var messages = map[language.Tag]map[messageKey]string{
	language.English: {
		msgInvalidCredentials: "invalid credentials",
		msgTooManyAttempts:    "too many attempts; try again later",
		msgUnauthenticated:    "authentication required",
		msgForbidden:          "forbidden",
		msgInternal:           "internal server error",
	},
	language.Japanese: {
		msgInvalidCredentials: "認証に失敗しました",
		msgTooManyAttempts:    "試行回数が上限に達しました。しばらくしてから再度お試しください",
		msgUnauthenticated:    "認証が必要です",
		msgForbidden:          "アクセスが拒否されました",
		msgInternal:           "サーバー内部でエラーが発生しました",
	},
}

var supportedLanguages = []language.Tag{language.English, language.Japanese}

var languageMatcher = language.NewMatcher(supportedLanguages)

// requestLanguage picks English or Japanese from Accept-Language.
func requestLanguage(r *http.Request) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, _ := languageMatcher.Match(tags...)
	return supportedLanguages[idx]
}

func message(r *http.Request, key messageKey) string {
	return messages[requestLanguage(r)][key]
}
