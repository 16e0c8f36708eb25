// Package i18n holds the user facing error messages in every supported
// language.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var supported = []language.Tag{language.English, language.Ukrainian}

var matcher = language.NewMatcher(supported)

var catalog = map[string][2]string{
	"error.InvalidCredentialsBody": {"Invalid login request", "Некоректний запит на вхід"},
	"error.NotFound":               {"User with this email not found", "Користувача з такою поштою не знайдено"},
	"error.BadCredentials":         {"Wrong password", "Неправильний пароль"},
	"error.Disabled":               {"Account is not activated", "Обліковий запис не активовано"},
	"error.Locked":                 {"Account is locked", "Обліковий запис заблоковано"},
	"error.Expired":                {"Account has expired", "Термін дії облікового запису минув"},
	"error.TokenExpired":           {"Session has expired", "Термін дії сесії минув"},
	"error.TokenInvalid":           {"Invalid session", "Недійсна сесія"},
	"error.CsrfInvalid":            {"Invalid CSRF token", "Недійсний CSRF токен"},
	"error.AccessDenied":           {"Access denied", "Доступ заборонено"},
	"error.WeakPassword":           {"Password is too short", "Пароль занадто короткий"},
	"error.UserExists":             {"User already exists", "Користувач уже існує"},
	"error.InvalidBody":            {"Malformed request body", "Некоректне тіло запиту"},
	"error.TooManyRequests":        {"Too many requests, try again later", "Забагато запитів, спробуйте пізніше"},
	"error.serverError":            {"Internal server error", "Внутрішня помилка сервера"},
}

func init() {
	for key, msgs := range catalog {
		for i, tag := range supported {
			if err := message.SetString(tag, key, msgs[i]); err != nil {
				panic(err)
			}
		}
	}
}

// Tag picks the best supported language for an Accept-Language header,
// falling back to English.
func Tag(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return supported[0]
	}
	_, index, _ := matcher.Match(tags...)
	return supported[index]
}

// Message renders key in the language negotiated from acceptLanguage. An
// unknown key is returned unchanged.
func Message(acceptLanguage, key string) string {
	return message.NewPrinter(Tag(acceptLanguage)).Sprintf(key)
}
