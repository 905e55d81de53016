package scenario

import (
	"context"
)

const AUPLoginName = "aup-login"

// Selectors and text of the Acceptable Usage Policy interstitial.
const (
	AUPHeadingSelector = "#main-content #login #fm1 h3"
	AUPHeadingText     = "Acceptable Usage Policy"
	AUPSubmitSelector  = "button[name=submit]"
	AUPCancelSelector  = "button[name=cancel]"
)

// AUPLogin logs in with a service and expects the policy screen with its
// submit and cancel controls.
func AUPLogin(baseURL, service string) Scenario {
	return Scenario{
		Name: AUPLoginName,
		Run: func(ctx context.Context, s *Session) error {
			loginURL, err := LoginURL(baseURL, service)
			if err != nil {
				return err
			}
			if err := s.Helper.Goto(ctx, s.Page, loginURL); err != nil {
				return err
			}
			if err := s.Helper.LoginWith(ctx, s.Page); err != nil {
				return err
			}
			if err := s.Helper.AssertTextContent(ctx, s.Page, AUPHeadingSelector, AUPHeadingText); err != nil {
				return err
			}
			if err := s.Helper.AssertVisibility(ctx, s.Page, AUPSubmitSelector); err != nil {
				return err
			}
			return s.Helper.AssertVisibility(ctx, s.Page, AUPCancelSelector)
		},
	}
}
