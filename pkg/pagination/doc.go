// Package pagination drives a remote API through its pages one request at a
// time.
//
// A Spec selects the strategy (none, page number, offset/limit, next link or
// cursor). Driver.Pages returns a pull-based iterator: nothing is requested
// until the consumer asks for the next element, and every element is the
// result of exactly one request.
//
// Example usage:
//
//	driver := pagination.NewDriver(httpClient)
//	target := pagination.Target{URL: "https://api.example.com/items"}
//	for page, err := range driver.Pages(ctx, target, pagination.PageNumber{StartPage: 1, PageParam: "page", DataPath: "data"}) {
//		if err != nil {
//			return err
//		}
//		handle(page)
//	}
//
// Termination per strategy:
//   - None: after the first page
//   - Page: after a page whose data is empty (that page is still yielded)
//   - Offset: after a page with fewer items than the limit
//   - NextLink: when neither _links.next nor the next key holds a URL
//   - Cursor: when the next cursor field is empty or missing
//
// There is no page ceiling unless WithMaxPages is given.
package pagination
