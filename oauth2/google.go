package oauth2

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
)

// DefaultFailureURL is where the callback redirects when the exchange fails.
const DefaultFailureURL = "/auth/google/fail/"

// GoogleCodeFlow runs the browser authorization code flow and hands the
// resulting Google id token to HandleIDToken.
type GoogleCodeFlow struct {
	*BaseOAuth2
	HandleIDToken IDTokenFunc
	FailureURL    string
}

func NewGoogleCodeFlow(clientId string, clientSecret string, callbackUrl string, handleIDToken IDTokenFunc) *GoogleCodeFlow {
	if clientId == "" {
		clientId = os.Getenv("OAUTH2_GOOGLE_CLIENT_ID")
	}
	if clientSecret == "" {
		clientSecret = os.Getenv("OAUTH2_GOOGLE_CLIENT_SECRET")
	}
	if callbackUrl == "" {
		callbackUrl = os.Getenv("OAUTH2_GOOGLE_CALLBACK_URL")
	}

	out := GoogleCodeFlow{
		BaseOAuth2:    NewBaseOAuth2(clientId, clientSecret, callbackUrl),
		HandleIDToken: handleIDToken,
		FailureURL:    DefaultFailureURL,
	}
	out.mux.HandleFunc("/callback/", out.handleCallback)
	return &out
}

func (g *GoogleCodeFlow) handleCallback(w http.ResponseWriter, r *http.Request) {
	oauthState, _ := r.Cookie(stateCookieName)
	if oauthState == nil {
		log.Println("oauth state is nil")
		http.Error(w, "OauthState is nil", http.StatusBadRequest)
		return
	}
	if r.FormValue("state") != oauthState.Value {
		http.SetCookie(w, &http.Cookie{
			Name:   stateCookieName,
			MaxAge: -1,
		})
		http.Error(w, fmt.Sprintf("invalid oauth google state: %s, CookieOauthState: %s", r.FormValue("state"), oauthState.Value), http.StatusBadRequest)
		return
	}

	token, err := g.exchange(r.Context(), r.FormValue("code"))
	if err != nil {
		log.Println("code exchange wrong: ", err)
	} else if idToken, ok := token.Extra("id_token").(string); !ok || idToken == "" {
		err = errors.New("token response has no id_token")
		log.Println("Error reading id token: ", err)
	} else if g.HandleIDToken != nil {
		g.HandleIDToken(w, r, idToken)
		return
	}
	if err != nil {
		log.Println("Error, so redirecting: ", err)
		http.Redirect(w, r, g.FailureURL, http.StatusTemporaryRedirect)
	}
}
