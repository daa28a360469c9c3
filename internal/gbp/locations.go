package gbp

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/mybusinessaccountmanagement/v1"
	"google.golang.org/api/mybusinessbusinessinformation/v1"

	"gwi.com/review-autoreply/internal/core"
)

const locationPageSize = 100

// ListLocations walks every account the user can manage and returns their
// locations. IDs are in the accounts/{a}/locations/{l} form the reviews API
// expects.
func (c *Client) ListLocations(ctx context.Context, ts oauth2.TokenSource) ([]core.Location, error) {
	accountsSvc, err := mybusinessaccountmanagement.NewService(ctx, c.serviceOptions(ctx, ts, c.accountsEndpoint)...)
	if err != nil {
		return nil, fmt.Errorf("unable to create account management client: %w", err)
	}
	infoSvc, err := mybusinessbusinessinformation.NewService(ctx, c.serviceOptions(ctx, ts, c.informationEndpoint)...)
	if err != nil {
		return nil, fmt.Errorf("unable to create business information client: %w", err)
	}

	var accounts []string
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	err = accountsSvc.Accounts.List().Pages(ctx, func(page *mybusinessaccountmanagement.ListAccountsResponse) error {
		for _, account := range page.Accounts {
			accounts = append(accounts, account.Name)
		}
		return c.wait(ctx)
	})
	if err != nil {
		return nil, classify("list accounts", err)
	}

	locations := []core.Location{}
	for _, account := range accounts {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		err := infoSvc.Accounts.Locations.List(account).
			ReadMask("name,title").
			PageSize(locationPageSize).
			Pages(ctx, func(page *mybusinessbusinessinformation.ListLocationsResponse) error {
				for _, loc := range page.Locations {
					// loc.Name is locations/{l}
					locations = append(locations, core.Location{
						ID:    account + "/" + loc.Name,
						Title: loc.Title,
					})
				}
				return c.wait(ctx)
			})
		if err != nil {
			return nil, classify("list locations "+account, err)
		}
	}
	return locations, nil
}
