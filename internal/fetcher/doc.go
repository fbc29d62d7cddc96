// Package fetcher performs the two HTTP interactions with the events site.
//
// FetchPage downloads the full events page; FetchBatch replays the calendar plugin's
// "load more" AJAX call (a form POST to wp-admin/admin-ajax.php) and decodes its JSON
// envelope. Both share one keep-alive client with a fixed timeout and never retry: a
// failure comes back as a *NetworkError for the caller to skip or abort on.
package fetcher
